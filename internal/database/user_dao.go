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

package database

import (
	"context"
	"strings"

	"github.com/lukasdietrich/sleet/internal/models"
)

// UserDao is a data access object for all user related queries.
type UserDao interface {
	// Insert inserts a new user.
	Insert(context.Context, Queryer, *models.UserEntity) error
	// Update updates the full name and credentials of an existing user.
	Update(context.Context, Queryer, *models.UserEntity) error
	// Delete deletes an existing user.
	Delete(context.Context, Queryer, *models.UserEntity) error
	// FindAll returns all users sorted by name.
	FindAll(context.Context, Queryer) ([]models.UserEntity, error)
	// FindByName returns the user with the exact name.
	FindByName(context.Context, Queryer, string) (*models.UserEntity, error)
	// Search returns all users with a name or full name containing the text.
	Search(context.Context, Queryer, string) ([]models.UserEntity, error)
	// Exists checks if a user with the exact name exists.
	Exists(context.Context, Queryer, string) (bool, error)
}

// userDao is the sqlite implementation of UserDao.
type userDao struct{}

// NewUserDao creates a new UserDao.
func NewUserDao() UserDao {
	return userDao{}
}

func (userDao) Insert(ctx context.Context, q Queryer, user *models.UserEntity) error {
	const query = `
		insert into "users" (
			"name" ,
			"full_name" ,
			"hash" ,
			"apop_secret"
		) values (
			:name ,
			:full_name ,
			:hash ,
			:apop_secret
		) ;
	`

	result, err := execNamed(ctx, q, query, user)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (userDao) Update(ctx context.Context, q Queryer, user *models.UserEntity) error {
	const query = `
		update "users"
		set "full_name" = :full_name ,
			"hash" = :hash ,
			"apop_secret" = :apop_secret
		where "name" = :name ;
	`

	result, err := execNamed(ctx, q, query, user)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (userDao) Delete(ctx context.Context, q Queryer, user *models.UserEntity) error {
	const query = `
		delete from "users"
		where "name" = :name ;
	`

	result, err := execNamed(ctx, q, query, user)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (userDao) FindAll(ctx context.Context, q Queryer) ([]models.UserEntity, error) {
	const query = `
		select *
		from "users"
		order by "name" asc ;
	`

	var userSlice []models.UserEntity

	if err := selectSlice(ctx, q, &userSlice, query); err != nil {
		return nil, err
	}

	return userSlice, nil
}

func (userDao) FindByName(ctx context.Context, q Queryer, name string) (*models.UserEntity, error) {
	const query = `
		select *
		from "users"
		where "name" = $1
		limit 1 ;
	`

	var user models.UserEntity

	if err := selectOne(ctx, q, &user, query, name); err != nil {
		return nil, err
	}

	return &user, nil
}

func (userDao) Search(ctx context.Context, q Queryer, text string) ([]models.UserEntity, error) {
	const query = `
		select *
		from "users"
		where "name" like $1 escape '\'
		   or "full_name" like $1 escape '\'
		order by "name" asc ;
	`

	var userSlice []models.UserEntity

	if err := selectSlice(ctx, q, &userSlice, query, "%"+escapeLike(text)+"%"); err != nil {
		return nil, err
	}

	return userSlice, nil
}

func (userDao) Exists(ctx context.Context, q Queryer, name string) (bool, error) {
	const query = `
		select count(*)
		from "users"
		where "name" = $1 ;
	`

	var count int

	if err := selectOne(ctx, q, &count, query, name); err != nil {
		return false, err
	}

	return count > 0, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(text string) string {
	return likeEscaper.Replace(text)
}
