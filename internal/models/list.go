// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package models

import (
	"database/sql/driver"
	"encoding/json"
)

// AddressList is a list of addresses stored as a json array.
type AddressList []Address

// Scan implements the sql.Scanner interface.
func (l *AddressList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Value implements the sql/driver.Valuer interface.
func (l AddressList) Value() (driver.Value, error) {
	return valueJSON(l)
}

// Strings returns the addresses as strings.
func (l AddressList) Strings() []string {
	s := make([]string, len(l))
	for i, addr := range l {
		s[i] = addr.String()
	}

	return s
}

// StringList is a list of strings stored as a json array.
type StringList []string

// Scan implements the sql.Scanner interface.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Value implements the sql/driver.Valuer interface.
func (l StringList) Value() (driver.Value, error) {
	return valueJSON(l)
}

func scanJSON(src interface{}, dest interface{}) error {
	s, err := driver.String.ConvertValue(src)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(s.(string)), dest)
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(b), nil
}
