package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/zaolin/bastion/internal/efivars"
)

var statusTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("86"))

// UEFICmd groups the firmware state commands
type UEFICmd struct {
	Status     UEFIStatusCmd     `cmd:"" help:"Report SecureBoot and setup mode state"`
	Boot2setup UEFIBoot2setupCmd `cmd:"" name:"boot2setup" help:"Request the firmware setup UI on next boot"`
}

// UEFIStatusCmd reports the firmware security state
type UEFIStatusCmd struct{}

// Run executes the uefi status command
func (c *UEFIStatusCmd) Run() error {
	fmt.Println(statusTitleStyle.Render("UEFI Status"))
	fmt.Println("===========")

	if !efivars.Supported() {
		fmt.Println("❌ Firmware variables are not available (booted without UEFI?)")
		return nil
	}

	secure, err := efivars.ReadBoolean("SecureBoot")
	switch {
	case errors.Is(err, efivars.ErrNotFound):
		fmt.Println("⚠️  SecureBoot:    variable not present")
	case err != nil:
		return err
	case secure:
		fmt.Println("✅ SecureBoot:    active")
	default:
		fmt.Println("❌ SecureBoot:    inactive")
	}

	setup, err := efivars.ReadBoolean("SetupMode")
	switch {
	case errors.Is(err, efivars.ErrNotFound):
		fmt.Println("⚠️  SetupMode:     variable not present")
	case err != nil:
		return err
	case setup:
		fmt.Println("⚠️  SetupMode:     active (no PK enrolled, keys can be installed)")
	default:
		fmt.Println("✅ SetupMode:     inactive (user mode)")
	}

	supported, err := efivars.SupportsBootToFirmware()
	switch {
	case err != nil:
		return err
	case supported:
		fmt.Println("✅ Boot-to-setup: supported")
	default:
		fmt.Println("❌ Boot-to-setup: not supported")
	}
	return nil
}

// UEFIBoot2setupCmd flags the next boot to enter firmware setup
type UEFIBoot2setupCmd struct{}

// Run executes the uefi boot2setup command
func (c *UEFIBoot2setupCmd) Run() error {
	if err := requireRoot(); err != nil {
		return err
	}

	err := efivars.RequestBootToFirmware()
	if errors.Is(err, efivars.ErrUnsupported) {
		fmt.Println("bastion: firmware does not support boot-to-setup, nothing written")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("bastion: firmware setup requested for next boot")
	return nil
}
