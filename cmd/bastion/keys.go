package main

import (
	"fmt"
	"os"

	"github.com/zaolin/bastion/internal/efivars"
	"github.com/zaolin/bastion/internal/keys"
	"github.com/zaolin/bastion/internal/prompt"
	"github.com/zaolin/bastion/internal/signtool"
)

// KeysCmd groups the Secure Boot key lifecycle commands
type KeysCmd struct {
	Create   KeysCreateCmd   `cmd:"" help:"Generate PK, KEK and DB key pairs"`
	Install  KeysInstallCmd  `cmd:"" help:"Enroll DB and KEK certificates (setup mode only)"`
	Activate KeysActivateCmd `cmd:"" help:"Activate a firmware key state"`
	Revert   KeysRevertCmd   `cmd:"" help:"Revert a firmware key state"`
	List     KeysListCmd     `cmd:"" help:"Show the enrolled firmware signature databases"`
	Backup   KeysBackupCmd   `cmd:"" help:"Write an encrypted archive of the key directory"`
	Restore  KeysRestoreCmd  `cmd:"" help:"Restore the key directory from an encrypted archive"`
}

// KeysCreateCmd generates the key hierarchy
type KeysCreateCmd struct {
	More       string `arg:"" optional:"" help:"Pass 'more' to also emit signature lists, chained updates and DER certificates"`
	CommonName string `name:"cn" default:"Secure Boot" help:"Certificate common name prefix"`
	Config     string `type:"path" help:"Path to TOML config file"`
	Verbose    bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the keys create command
func (c *KeysCreateCmd) Run() error {
	signtool.Verbose = c.Verbose
	if c.More != "" && c.More != "more" {
		return fmt.Errorf("unknown argument %q (did you mean 'more'?)", c.More)
	}
	if err := requireRoot(); err != nil {
		return err
	}
	if err := signtool.CheckTools(signtool.KeyGenTools...); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	return keysManager(cfg).CreateKeys(c.CommonName, c.More == "more")
}

// KeysInstallCmd enrolls DB and KEK while the platform is in setup mode
type KeysInstallCmd struct {
	WithDB  bool   `name:"with-db" help:"Enroll the DB certificate without asking"`
	Yes     bool   `short:"y" help:"Answer yes to all prompts"`
	Config  string `type:"path" help:"Path to TOML config file"`
	Verbose bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the keys install command
func (c *KeysInstallCmd) Run() error {
	signtool.Verbose = c.Verbose
	if err := requireRoot(); err != nil {
		return err
	}
	if err := signtool.CheckTools(signtool.EnrollTools...); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	withDB := c.WithDB || c.Yes
	if !withDB {
		ok, err := prompt.Confirm("Also enroll the DB certificate into the signature database?")
		if err != nil {
			return err
		}
		withDB = ok
	}
	return keysManager(cfg).EnrollPersonalKeys(withDB)
}

// KeysActivateCmd holds the activate subcommands
type KeysActivateCmd struct {
	Usermode KeysActivateUsermodeCmd `cmd:"" help:"Enroll the PK; the platform leaves setup mode"`
}

// KeysActivateUsermodeCmd applies the PK enrollment update
type KeysActivateUsermodeCmd struct {
	Yes     bool   `short:"y" help:"Skip the confirmation prompt"`
	Config  string `type:"path" help:"Path to TOML config file"`
	Verbose bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the keys activate usermode command
func (c *KeysActivateUsermodeCmd) Run() error {
	signtool.Verbose = c.Verbose
	if err := requireRoot(); err != nil {
		return err
	}
	if err := signtool.CheckTools(signtool.EnrollTools...); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	if !c.Yes {
		ok, err := prompt.ConfirmPhrase(
			"Enrolling the PK switches the firmware to user mode. Only the PKno.auth update generated with the keys can revert this.",
			"enroll PK")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("bastion: aborted")
			return nil
		}
	}
	return keysManager(cfg).ActivateUserMode()
}

// KeysRevertCmd holds the revert subcommands
type KeysRevertCmd struct {
	Setupmode KeysRevertSetupmodeCmd `cmd:"" help:"Apply the signed empty PK update; the platform returns to setup mode"`
}

// KeysRevertSetupmodeCmd clears the PK again
type KeysRevertSetupmodeCmd struct {
	Yes     bool   `short:"y" help:"Skip the confirmation prompt"`
	Config  string `type:"path" help:"Path to TOML config file"`
	Verbose bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the keys revert setupmode command
func (c *KeysRevertSetupmodeCmd) Run() error {
	signtool.Verbose = c.Verbose
	if err := requireRoot(); err != nil {
		return err
	}
	if err := signtool.CheckTools(signtool.EnrollTools...); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	if !c.Yes {
		ok, err := prompt.Confirm("Clear the platform key and return the firmware to setup mode?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("bastion: aborted")
			return nil
		}
	}
	return keysManager(cfg).RevertSetupMode()
}

// KeysListCmd dumps the enrolled signature databases
type KeysListCmd struct{}

// Run executes the keys list command
func (c *KeysListCmd) Run() error {
	if !efivars.Supported() {
		return fmt.Errorf("firmware variables are not available (booted without UEFI?)")
	}
	dbs, err := keys.ReadEnrolled()
	if err != nil {
		return err
	}
	for _, d := range dbs {
		keys.FormatDatabase(os.Stdout, d)
	}
	return nil
}

// KeysBackupCmd writes the encrypted key archive
type KeysBackupCmd struct {
	Output string `arg:"" type:"path" help:"Archive path to create"`
	Config string `type:"path" help:"Path to TOML config file"`
}

// Run executes the keys backup command
func (c *KeysBackupCmd) Run() error {
	if err := requireRoot(); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	pass, err := readNewPassphrase()
	if err != nil {
		return err
	}
	return keysManager(cfg).Backup(c.Output, pass)
}

// KeysRestoreCmd unpacks an encrypted key archive
type KeysRestoreCmd struct {
	Input  string `arg:"" type:"path" help:"Archive path to restore from"`
	Config string `type:"path" help:"Path to TOML config file"`
}

// Run executes the keys restore command
func (c *KeysRestoreCmd) Run() error {
	if err := requireRoot(); err != nil {
		return err
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return keysManager(cfg).Restore(c.Input, pass)
}
