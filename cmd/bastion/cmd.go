package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/zaolin/bastion/internal/bootmgr"
	"github.com/zaolin/bastion/internal/config"
	"github.com/zaolin/bastion/internal/disk"
	"github.com/zaolin/bastion/internal/efivars"
	"github.com/zaolin/bastion/internal/image"
	"github.com/zaolin/bastion/internal/keys"
	"github.com/zaolin/bastion/internal/reconcile"
	"github.com/zaolin/bastion/internal/signtool"
)

// CLI defines the root command structure with subcommands
type CLI struct {
	Install InstallCmd `cmd:"" help:"Build boot images and (re)create firmware entries"`
	Update  UpdateCmd  `cmd:"" help:"Rebuild boot images, leave firmware entries untouched"`
	RmEntry RmEntryCmd `cmd:"" name:"rm-entry" help:"Remove every firmware boot entry with the given title"`
	Keys    KeysCmd    `cmd:"" help:"Manage Secure Boot key material"`
	UEFI    UEFICmd    `cmd:"" name:"uefi" help:"Inspect and adjust firmware state"`
}

// diskResolver adapts the disk package to the Resolver interfaces the
// builder and boot entry manager expect.
type diskResolver struct{}

func (diskResolver) Resolve(path string) (*disk.Location, error) {
	return disk.Resolve(path)
}

// firmwareVars adapts the efivars package to the keys.Firmware interface.
type firmwareVars struct{}

func (firmwareVars) ReadBoolean(name string) (bool, error) {
	return efivars.ReadBoolean(name)
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command must be run as root")
	}
	return nil
}

// loadConfig falls back to the system config file when it exists and to
// built-in defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	return config.Load(path)
}

func keysManager(cfg *config.Config) *keys.Manager {
	return &keys.Manager{
		Dir:      cfg.KeyDir,
		Tools:    signtool.New(),
		Firmware: firmwareVars{},
	}
}

// runReconcile wires the full pipeline and processes either one record
// file or the whole record directory.
func runReconcile(configPath, target string, verbose, filesOnly bool) error {
	signtool.Verbose = verbose
	bootmgr.Verbose = verbose

	if err := requireRoot(); err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !filesOnly {
		if err := signtool.CheckTools(bootmgr.EFIBootmgrBin); err != nil {
			return err
		}
	}

	builder := &image.Builder{
		Resolver:  diskResolver{},
		Tools:     signtool.New(),
		KeyDir:    cfg.KeyDir,
		StubPath:  cfg.StubPath,
		OSRelease: cfg.OSRelease,
	}
	runner := &reconcile.Runner{
		Builder:   builder,
		Entries:   bootmgr.New(diskResolver{}),
		FilesOnly: filesOnly,
	}

	if target != "" {
		rec, err := config.LoadRecord(target)
		if err != nil {
			return err
		}
		if err := checkBuildTools([]*config.Record{rec}); err != nil {
			return err
		}
		return runner.RunOne(rec)
	}

	records, loadErr := config.LoadSet(cfg.BootDir)
	if loadErr != nil {
		fmt.Printf("  warning: %v\n", loadErr)
	}
	if len(records) == 0 {
		if loadErr != nil {
			return loadErr
		}
		fmt.Printf("bastion: no records in %s\n", cfg.BootDir)
		return nil
	}
	if err := checkBuildTools(records); err != nil {
		return err
	}

	if runErr := runner.RunSet(records); runErr != nil || loadErr != nil {
		return errors.Join(runErr, loadErr)
	}
	return nil
}

// checkBuildTools verifies the assembly toolchain is present before any
// record that builds a signed stub image starts calling out.
func checkBuildTools(records []*config.Record) error {
	for _, rec := range records {
		if rec.Variant == config.VariantSignedStub {
			return signtool.CheckTools(signtool.AssembleTools...)
		}
	}
	return nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

func readNewPassphrase() (string, error) {
	first, err := readPassphrase("Passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
