package main

import (
	"fmt"

	"github.com/zaolin/bastion/internal/bootmgr"
	"github.com/zaolin/bastion/internal/signtool"
)

// InstallCmd builds boot images and reconciles firmware entries
type InstallCmd struct {
	ConfigFile string `arg:"" optional:"" type:"path" help:"Process a single record file instead of the whole set"`
	Config     string `type:"path" help:"Path to TOML config file"`
	Verbose    bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the install command
func (c *InstallCmd) Run() error {
	return runReconcile(c.Config, c.ConfigFile, c.Verbose, false)
}

// UpdateCmd rebuilds boot images without touching firmware entries
type UpdateCmd struct {
	ConfigFile string `arg:"" optional:"" type:"path" help:"Process a single record file instead of the whole set"`
	Config     string `type:"path" help:"Path to TOML config file"`
	Verbose    bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the update command
func (c *UpdateCmd) Run() error {
	return runReconcile(c.Config, c.ConfigFile, c.Verbose, true)
}

// RmEntryCmd removes firmware boot entries by label
type RmEntryCmd struct {
	Title   string `arg:"" help:"Entry label to remove"`
	Verbose bool   `short:"v" help:"Show tool invocations"`
}

// Run executes the rm-entry command
func (c *RmEntryCmd) Run() error {
	bootmgr.Verbose = c.Verbose
	if err := requireRoot(); err != nil {
		return err
	}
	if err := signtool.CheckTools(bootmgr.EFIBootmgrBin); err != nil {
		return err
	}

	removed, err := bootmgr.New(diskResolver{}).Remove(c.Title)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Printf("bastion: no boot entries labeled %q\n", c.Title)
		return nil
	}
	fmt.Printf("bastion: removed %d boot entries labeled %q\n", removed, c.Title)
	return nil
}
