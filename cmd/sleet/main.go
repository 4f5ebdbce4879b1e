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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/log"
)

const usageText = `
Usage:
  sleet [OPTIONS] COMMAND [ARGS]

  A mail transfer agent accepting mail over smtp, serving it over pop3
  and relaying it to remote servers.

Version:
  %s

Commands:
  start                      Start the smtp and pop3 servers and the delivery scheduler
  user add NAME [FULLNAME]   Add a user with the password read from stdin
  user passwd NAME           Replace the password of a user
  user apop NAME             Replace the APOP secret of a user (empty removes it)
  user rm NAME               Remove a user and its inbox
  user ls                    List all users
  send FROM TO...            Queue the message read from stdin for delivery

Options:
%s
`

var (
	// Version is set at compile-time.
	Version string

	errUsage = errors.New("invalid arguments")
)

func init() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}

func main() {
	var configFilename string

	flags := pflag.NewFlagSet("sleet", pflag.ContinueOnError)
	flags.StringVarP(&configFilename, "config", "c", "", "Path to a configuration file")
	flags.Usage = printUsage(flags)

	if err := flags.Parse(os.Args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		log.Fatal().Err(err).Msg("could not parse flags")
	}

	args := flags.Args()
	if len(args) < 2 {
		flags.Usage()
		os.Exit(2)
	}

	switch commandName := args[1]; commandName {
	case "start", "user", "send":
		setupConfig(configFilename)
		setupLogger()
		printConfig()

		if err := runCommand(commandName, args[2:]); err != nil {
			if errors.Is(err, errUsage) {
				flags.Usage()
				os.Exit(2)
			}

			log.Fatal().Err(err).Str("command", commandName).Msg("command failed")
		}

	default:
		flags.Usage()
		os.Exit(2)
	}
}

type command interface {
	run(ctx context.Context, args []string) error
}

func runCommand(commandName string, args []string) error {
	var (
		cmd command
		err error
	)

	switch commandName {
	case "start":
		cmd, err = newStartCommand()
	case "user":
		cmd, err = newUserCommand()
	case "send":
		cmd, err = newSendCommand()
	}

	if err != nil {
		return fmt.Errorf("could not initialize the application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd.run(ctx, args)
}

func printUsage(flags *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, usageText,
			Version,
			flags.FlagUsages())
	}
}

func setupLogger() {
	level := viper.GetString("log.level")

	if err := log.Setup(level, viper.GetBool("log.pretty")); err != nil {
		log.Fatal().Err(err).Str("level", level).Msg("unknown log level")
	}
}

func setupConfig(filename string) {
	viper.SetTypeByDefaultValue(true)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("SLEET")

	if filename != "" {
		readConfig(filename)
	}
}

func readConfig(filename string) {
	viper.SetConfigFile(filename)

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Err(err).Str("filename", filename).Msg("configuration file missing")
		} else {
			log.Fatal().Err(err).Str("filename", filename).Msg("could not load configuration")
		}
	}
}

func printConfig() {
	keys := viper.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		v, _ := json.Marshal(viper.Get(key))
		log.Debug().RawJSON(key, v).Msg("config")
	}
}
