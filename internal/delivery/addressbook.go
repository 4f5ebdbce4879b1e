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

package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/models"
)

// postmasterLocalPart is the reserved mailbox name of RFC#5321 4.5.1, that is valid for every
// host.
const postmasterLocalPart = "postmaster"

// ErrNoPostmaster is returned, if the user configured as postmaster does not exist.
var ErrNoPostmaster = errors.New("postmaster is not a user")

func init() {
	viper.SetDefault("general.postmaster", "postmaster")
}

// AddressbookOptions configure, which addresses are local.
type AddressbookOptions struct {
	// Hostname is the only local domain.
	Hostname string
	// Postmaster is the name of the user receiving mail for the postmaster mailbox.
	Postmaster string
}

// AddressbookOptionsFromViper reads the addressbook options from viper.
func AddressbookOptionsFromViper() AddressbookOptions {
	return AddressbookOptions{
		Hostname:   viper.GetString("general.hostname"),
		Postmaster: viper.GetString("general.postmaster"),
	}
}

// LookupResult is the result of an address lookup.
type LookupResult struct {
	// IsLocal indicates if the domain part of the address is local. This does not imply that the
	// address exists.
	IsLocal bool
	// IsPostmaster indicates if the address is the reserved postmaster mailbox.
	IsPostmaster bool
	// User is the local user of an address, if it is local and exists. If User is not nil
	// IsLocal is implied to be true.
	User *models.UserEntity
}

// Exists reports whether mail for the address is accepted by a local mailbox. The postmaster
// only exists, if the user configured for it does.
func (r *LookupResult) Exists() bool {
	return r.IsLocal && r.User != nil
}

// Addressbook is a registry to look up local users by address.
type Addressbook interface {
	// Hostname returns the local domain.
	Hostname() string
	// Lookup looks up an address outside of a transaction. See LookupTx.
	Lookup(context.Context, models.Address) (*LookupResult, error)
	// LookupTx looks up an address. The result indicates if the address belongs to the local
	// domain and if it does, if it exists. Only database errors may occur.
	LookupTx(context.Context, database.Queryer, models.Address) (*LookupResult, error)
	// Search returns all users with a name or full name containing the text.
	Search(context.Context, string) ([]models.UserEntity, error)
	// CheckPostmaster returns ErrNoPostmaster, if mail for the postmaster has no mailbox.
	CheckPostmaster(context.Context) error
}

type addressbook struct {
	conn    database.Conn
	userDao database.UserDao
	opts    AddressbookOptions
}

// NewAddressbook creates a new Addressbook.
func NewAddressbook(conn database.Conn, userDao database.UserDao, opts AddressbookOptions) Addressbook {
	return &addressbook{
		conn:    conn,
		userDao: userDao,
		opts:    opts,
	}
}

func (a *addressbook) Hostname() string {
	return a.opts.Hostname
}

func (a *addressbook) Lookup(ctx context.Context, addr models.Address) (*LookupResult, error) {
	return a.LookupTx(ctx, a.conn, addr)
}

func (a *addressbook) LookupTx(
	ctx context.Context,
	q database.Queryer,
	addr models.Address,
) (*LookupResult, error) {
	if !a.isLocalDomain(addr.Domain()) {
		return &LookupResult{IsLocal: false}, nil
	}

	var (
		name         = models.NormalizeLocalPart(addr.LocalPart())
		isPostmaster = name == postmasterLocalPart
	)

	if isPostmaster {
		name = a.opts.Postmaster
	}

	user, err := a.userDao.FindByName(ctx, q, name)
	if err != nil && !database.IsErrNoRows(err) {
		return nil, err
	}

	return &LookupResult{IsLocal: true, IsPostmaster: isPostmaster, User: user}, nil
}

func (a *addressbook) isLocalDomain(domain string) bool {
	unicodeDomain, err := models.DomainToUnicode(domain)
	if err != nil {
		return false
	}

	return strings.EqualFold(unicodeDomain, a.opts.Hostname)
}

func (a *addressbook) Search(ctx context.Context, text string) ([]models.UserEntity, error) {
	return a.userDao.Search(ctx, a.conn, models.NormalizeLocalPart(text))
}

func (a *addressbook) CheckPostmaster(ctx context.Context) error {
	exists, err := a.userDao.Exists(ctx, a.conn, a.opts.Postmaster)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %q", ErrNoPostmaster, a.opts.Postmaster)
	}

	return nil
}
