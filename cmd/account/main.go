// This script is a small convenience tool for manipulating user accounts in the
// configured server database.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core"
	"github.com/dcrodman/gatehouse/internal/core/auth"
	"github.com/dcrodman/gatehouse/internal/core/data"
)

var (
	configFlag = flag.StringP("config", "c", "./", "Path to the directory containing the server config file")
	add        = flag.Bool("add", false, "Add an account.")
	ban        = flag.Bool("ban", false, "Ban an account.")
	unban      = flag.Bool("unban", false, "Lift a ban on an account.")
	softDelete = flag.Bool("delete", false, "Soft delete an account.")
	pd         = flag.Bool("perm-delete", false, "Delete an account permanently.")
)

var stdin = bufio.NewReader(os.Stdin)

func main() {
	flag.Parse()

	actions := 0
	for _, set := range []bool{*add, *ban, *unban, *softDelete, *pd} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		flag.Usage()
		os.Exit(1)
	}

	db, err := openDatabase(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	err = run(db)
	_ = data.Shutdown(db)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openDatabase(configPath string) (*gorm.DB, error) {
	config, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return data.Initialize(config.Database.Engine, config.DatabaseURL(), nil, config.Debugging.DatabaseLoggingEnabled)
}

func run(db *gorm.DB) error {
	switch {
	case *add:
		u := scanInput("Username")
		p := scanInput("Password")
		e := scanInput("Email")
		account, err := auth.CreateAccount(db, u, p, e)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		fmt.Println("created account with ID:", account.ID)
	case *ban, *unban:
		u := scanInput("Username")
		if err := auth.SetBanned(db, u, *ban); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		fmt.Println("updated account")
	case *softDelete:
		u := scanInput("Username")
		if err := auth.DeleteAccount(db, u); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Println("deleted account")
	case *pd:
		u := scanInput("Username")
		if err := auth.PermanentlyDeleteAccount(db, u); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Println("permanently deleted account")
	}
	return nil
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}
