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

package smtp

import (
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitedReader(t *testing.T) {
	b, err := ioutil.ReadAll(&limitedReader{r: strings.NewReader("12345"), n: 6})
	assert.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	b, err = ioutil.ReadAll(&limitedReader{r: strings.NewReader("12345"), n: 3})
	assert.Equal(t, errReaderLimitReached, err)
	assert.Equal(t, "123", string(b))
}
