// The module command manages the module library served to logged in clients.
//
//	module upload <name> <file> [--version v]
//	module list
//	module delete <name>
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core"
	"github.com/dcrodman/gatehouse/internal/core/data"
)

var (
	configFlag  = flag.StringP("config", "c", "./", "Path to the directory containing the server config file")
	versionFlag = flag.String("version", "", "Version recorded for an uploaded module")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: module [flags] upload <name> <file> | list | delete <name>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	config, err := core.LoadConfig(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	db, err := data.Initialize(config.Database.Engine, config.DatabaseURL(), nil, config.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	err = run(db, flag.Args())
	_ = data.Shutdown(db)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(db *gorm.DB, args []string) error {
	switch {
	case args[0] == "upload" && len(args) == 3:
		return upload(db, args[1], args[2])
	case args[0] == "list" && len(args) == 1:
		return list(db)
	case args[0] == "delete" && len(args) == 2:
		if err := data.DeleteModule(db, args[1]); err != nil {
			return fmt.Errorf("failed to delete module: %w", err)
		}
		fmt.Println("deleted module", args[1])
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("invalid command: %v", args)
	}
}

func upload(db *gorm.DB, name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading module file: %w", err)
	}
	m := &data.Module{Name: name, Version: *versionFlag, Content: content}
	if err := data.SaveModule(db, m); err != nil {
		return fmt.Errorf("failed to save module: %w", err)
	}
	fmt.Printf("saved module %s (%d bytes)\n", name, len(content))
	return nil
}

func list(db *gorm.DB) error {
	modules, err := data.FindModules(db)
	if err != nil {
		return fmt.Errorf("failed to list modules: %w", err)
	}
	for _, m := range modules {
		fmt.Printf("%-24s %-10s %s\n", m.Name, m.Version, m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
