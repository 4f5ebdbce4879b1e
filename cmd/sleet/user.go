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

package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

type userCommand struct {
	Conn    database.Conn
	UserDao database.UserDao
	Cleaner delivery.Cleaner
}

func (u *userCommand) run(ctx context.Context, args []string) error {
	defer u.Conn.Close()

	if len(args) == 0 {
		return errUsage
	}

	subcommand, args := args[0], args[1:]

	switch {
	case subcommand == "add" && len(args) >= 1:
		return u.add(ctx, args[0], strings.Join(args[1:], " "))
	case subcommand == "passwd" && len(args) == 1:
		return u.passwd(ctx, args[0])
	case subcommand == "apop" && len(args) == 1:
		return u.apop(ctx, args[0])
	case subcommand == "rm" && len(args) == 1:
		return u.remove(ctx, args[0])
	case subcommand == "ls" && len(args) == 0:
		return u.list(ctx)
	}

	return errUsage
}

func (u *userCommand) add(ctx context.Context, name, fullName string) error {
	name = models.NormalizeLocalPart(name)
	if name == "" || strings.ContainsAny(name, "@ ") {
		return fmt.Errorf("invalid user name %q", name)
	}

	pass, err := readSecret()
	if err != nil {
		return err
	}

	if pass == "" {
		return errors.New("the password must not be empty")
	}

	user := models.UserEntity{
		Name:     name,
		FullName: sql.NullString{String: fullName, Valid: fullName != ""},
	}

	if err := crypto.Hash(&user, []byte(pass)); err != nil {
		return err
	}

	return u.inTx(ctx, func(tx database.Tx) error {
		exists, err := u.UserDao.Exists(ctx, tx, name)
		if err != nil {
			return err
		}

		if exists {
			return fmt.Errorf("user %q already exists", name)
		}

		if err := u.UserDao.Insert(ctx, tx, &user); err != nil {
			return err
		}

		log.Info().Str("user", name).Msg("user added")
		return nil
	})
}

func (u *userCommand) passwd(ctx context.Context, name string) error {
	pass, err := readSecret()
	if err != nil {
		return err
	}

	if pass == "" {
		return errors.New("the password must not be empty")
	}

	return u.update(ctx, name, func(user *models.UserEntity) error {
		return crypto.Hash(user, []byte(pass))
	})
}

// apop replaces the shared secret. APOP is disabled for users without a secret.
func (u *userCommand) apop(ctx context.Context, name string) error {
	secret, err := readSecret()
	if err != nil {
		return err
	}

	return u.update(ctx, name, func(user *models.UserEntity) error {
		user.APOPSecret = sql.NullString{String: secret, Valid: secret != ""}
		return nil
	})
}

func (u *userCommand) update(ctx context.Context, name string, change func(*models.UserEntity) error) error {
	return u.inTx(ctx, func(tx database.Tx) error {
		user, err := u.findUser(ctx, tx, name)
		if err != nil {
			return err
		}

		if err := change(user); err != nil {
			return err
		}

		if err := u.UserDao.Update(ctx, tx, user); err != nil {
			return err
		}

		log.Info().Str("user", user.Name).Msg("user updated")
		return nil
	})
}

// remove deletes the user. Its inbox is deleted by the database and messages, that are no
// longer referenced, are cleaned afterwards.
func (u *userCommand) remove(ctx context.Context, name string) error {
	err := u.inTx(ctx, func(tx database.Tx) error {
		user, err := u.findUser(ctx, tx, name)
		if err != nil {
			return err
		}

		return u.UserDao.Delete(ctx, tx, user)
	})

	if err != nil {
		return err
	}

	log.Info().Str("user", name).Msg("user removed")
	return u.Cleaner.Clean(ctx)
}

func (u *userCommand) list(ctx context.Context) error {
	users, err := u.UserDao.FindAll(ctx, u.Conn)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFULL NAME\tAPOP")

	for _, user := range users {
		fmt.Fprintf(w, "%s\t%s\t%t\n", user.Name, user.FullName.String, user.APOPSecret.Valid)
	}

	return w.Flush()
}

func (u *userCommand) findUser(ctx context.Context, q database.Queryer, name string) (*models.UserEntity, error) {
	user, err := u.UserDao.FindByName(ctx, q, models.NormalizeLocalPart(name))
	if err != nil {
		if database.IsErrNoRows(err) {
			return nil, fmt.Errorf("user %q does not exist", name)
		}

		return nil, err
	}

	return user, nil
}

func (u *userCommand) inTx(ctx context.Context, fn func(database.Tx) error) error {
	tx, err := u.Conn.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// readSecret reads the first line of stdin.
func readSecret() (string, error) {
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}
