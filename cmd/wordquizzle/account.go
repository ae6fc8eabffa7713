// This file holds small convenience tools for manipulating player accounts in
// the configured server database.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/auth"
	"github.com/wordquizzle/wordquizzle/internal/core/data"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account management tools",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Registers new player accounts in the database",
	Run:   AccountAddCommand,
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deletes player accounts from the database",
	Run:   AccountDeleteCommand,
}

var accountScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Shows a player's cumulative score",
	Run:   AccountScoreCommand,
}

func initDB() *gorm.DB {
	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if ConfigFlag != "" {
		if err := os.Chdir(ConfigFlag); err != nil {
			fmt.Println("error changing to config directory:", err)
			os.Exit(1)
		}
	}

	cfg := core.LoadConfig(".")
	dataSource := cfg.Database.Filename
	if cfg.Database.Engine == "postgres" {
		dataSource = cfg.DatabaseURL()
	}

	db, err := data.Initialize(cfg.Database.Engine, dataSource, false)
	if err != nil {
		fmt.Println("error connecting to database:", err.Error())
		os.Exit(1)
	}
	return db
}

func AccountAddCommand(cmd *cobra.Command, args []string) {
	db := initDB()

	username := scanInput("Username")
	password := scanInput("Password")

	account := &data.Account{
		Username:         username,
		Password:         auth.HashPassword(password),
		RegistrationDate: time.Now(),
	}
	if err := data.CreateAccount(db, account); err != nil {
		fmt.Println("error creating account:", err.Error())
		os.Exit(1)
	}
	fmt.Println("created account for", username)
}

func AccountDeleteCommand(cmd *cobra.Command, args []string) {
	db := initDB()

	username := scanInput("Username")
	account, err := data.FindAccountByUsername(db, username)
	if err != nil {
		fmt.Println("error finding account:", err.Error())
		os.Exit(1)
	}
	if account == nil {
		fmt.Println("no account with username", username)
		os.Exit(1)
	}

	if err := data.DeleteAccount(db, account); err != nil {
		fmt.Println("error deleting account:", err.Error())
		os.Exit(1)
	}
	fmt.Println("deleted account", username)
}

func AccountScoreCommand(cmd *cobra.Command, args []string) {
	db := initDB()

	username := scanInput("Username")
	account, err := data.FindAccountByUsername(db, username)
	if err != nil {
		fmt.Println("error finding account:", err.Error())
		os.Exit(1)
	}
	if account == nil {
		fmt.Println("no account with username", username)
		os.Exit(1)
	}

	fmt.Printf("%s has scored a total of %d points\n", account.Username, account.Score)
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	value, _ := reader.ReadString('\n')
	return strings.TrimSpace(value)
}
