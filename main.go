// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ursafe-io/ursafe/internal/config"
	"github.com/ursafe-io/ursafe/internal/ui"
	"github.com/ursafe-io/ursafe/internal/vault"
)

func main() {
	drivePath := flag.String("drive", "", "Path to the mounted removable drive root.")
	hostDir := flag.String("host-dir", "", "(Optional) Override the host chunk directory.")
	pinFlag := flag.String("pin", "", "(Optional) Vault PIN. Prompted interactively when omitted.")
	verbose := flag.Bool("verbose", false, "Enable debug logging.")
	flag.Parse()

	// Display banner
	fmt.Print(ui.Banner())

	command := "status"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	target := *drivePath
	if target == "" {
		// remaining args are drive candidates from the OS-level enumerator
		var candidates []string
		if flag.NArg() > 1 {
			candidates = flag.Args()[1:]
		}
		switch len(candidates) {
		case 0:
			fmt.Println("Please supply a drive with -drive, or list candidate paths after the command.")
			fmt.Println("Examples:")
			fmt.Println("- ursafe -drive /mnt/usb1 init")
			fmt.Println("- ursafe status /mnt/usb1 /mnt/usb2")
			fmt.Println("\nCommands: status, init, list, add, remove, repair")
			fmt.Println("\nOptional flags:")
			flag.PrintDefaults()
			return
		case 1:
			target = candidates[0]
		default:
			chosen, err := ui.RunDrivePickerForm(candidates)
			if err != nil {
				fmt.Print(ui.ErrorBox(err))
				os.Exit(1)
			}
			target = chosen
		}
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Print(ui.ErrorBox(err))
			os.Exit(1)
		}
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	cfg.Logger = logger
	if *hostDir != "" {
		cfg.HostChunkDir = *hostDir
	}

	engine, err := vault.New(target, cfg)
	if err != nil {
		fmt.Print(ui.ErrorBox(err))
		os.Exit(1)
	}

	switch command {
	case "status":
		err = runStatus(engine)
	case "init":
		err = runInit(engine, *pinFlag)
	case "list":
		err = runList(engine, *pinFlag)
	case "add":
		err = runAdd(engine, *pinFlag)
	case "remove":
		err = runRemove(engine, *pinFlag, flag.Args())
	case "repair":
		err = runRepair(engine, *pinFlag)
	default:
		err = fmt.Errorf("unknown command `%s`", command)
	}
	if err != nil {
		fmt.Print(ui.ErrorBox(err))
		os.Exit(1)
	}
}

func resolvePIN(pinFlag, title string, confirm bool) (string, error) {
	if pinFlag != "" {
		return pinFlag, nil
	}
	return ui.RunPINForm(title, confirm)
}

func runStatus(engine *vault.Engine) error {
	status := engine.VaultStatus()
	items := []string{
		ui.Boldf("Drive: %s", status.DrivePath),
		fmt.Sprintf("Vault present: %t", status.Present),
		fmt.Sprintf("State: %s", status.State),
	}
	if !status.Present {
		fmt.Println(ui.Checklist(items))
		return nil
	}

	cs, err := engine.ChunkStatus()
	if err != nil {
		return err
	}
	items = append(items,
		fmt.Sprintf("Host shares: %d of %d (%s)", len(cs.HostMasterIndices), cs.TotalShares, cs.HostDir),
		fmt.Sprintf("Drive shares: %d of %d (%s)", len(cs.DriveMasterIndices), cs.TotalShares, cs.DriveDir),
		fmt.Sprintf("Recoverable with threshold %d: %t", cs.Threshold, cs.Recoverable),
	)

	ls, err := engine.LogStats()
	if err != nil {
		return err
	}
	items = append(items,
		fmt.Sprintf("Log entries: %d (last action: %s)", ls.Entries, ls.LastAction),
		fmt.Sprintf("Log head: %s", ls.HeadHash),
	)
	fmt.Println(ui.Checklist(items))
	return nil
}

func runInit(engine *vault.Engine, pinFlag string) error {
	pin, err := resolvePIN(pinFlag, "Choose a PIN for the new vault", true)
	if err != nil {
		return err
	}
	res, err := engine.Initialize(pin)
	if err != nil {
		return err
	}

	fmt.Print(ui.SuccessBox())
	fmt.Printf("Vault %s created on %s.\n", ui.Bold(res.VaultID), engine.DrivePath())
	if res.StabilityScore < 1 {
		fmt.Printf("\n⚠ Hardware fingerprint stability is %.2f; binding to this host is weaker than intended.\n", res.StabilityScore)
	}
	fmt.Printf("\nHere is your recovery phrase. Write it down and keep it offline; it is shown only once.\n")
	fmt.Printf("%s\n", ui.Bold(res.RecoveryPhrase))
	return nil
}

func runList(engine *vault.Engine, pinFlag string) error {
	pin, err := resolvePIN(pinFlag, "Enter the vault PIN", false)
	if err != nil {
		return err
	}
	secrets, err := engine.Unlock(pin)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Lock() }()

	if len(secrets) == 0 {
		fmt.Println("The vault is empty.")
		return nil
	}
	preview := make(map[string]string, len(secrets))
	for name, record := range secrets {
		preview[name] = string(record.Kind)
	}
	fmt.Println(ui.SecretList(preview))
	return nil
}

func runAdd(engine *vault.Engine, pinFlag string) error {
	pin, err := resolvePIN(pinFlag, "Enter the vault PIN", false)
	if err != nil {
		return err
	}
	name, value, err := ui.RunSecretForm()
	if err != nil {
		return err
	}
	secrets, err := engine.Unlock(pin)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Lock() }()

	secrets[name] = vault.PasswordRecord(value)
	if err := engine.Save(pin, secrets); err != nil {
		return err
	}
	fmt.Print(ui.SuccessBox())
	fmt.Printf("Stored record %s.\n", ui.Bold(name))
	return nil
}

func runRemove(engine *vault.Engine, pinFlag string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ursafe -drive <path> remove <record-name>")
	}
	name := args[1]

	pin, err := resolvePIN(pinFlag, "Enter the vault PIN", false)
	if err != nil {
		return err
	}
	secrets, err := engine.Unlock(pin)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Lock() }()

	if _, ok := secrets[name]; !ok {
		return fmt.Errorf("no record named `%s`", name)
	}
	delete(secrets, name)
	if err := engine.Save(pin, secrets); err != nil {
		return err
	}
	fmt.Print(ui.SuccessBox())
	fmt.Printf("Removed record %s.\n", ui.Bold(name))
	return nil
}

func runRepair(engine *vault.Engine, pinFlag string) error {
	pin, err := resolvePIN(pinFlag, "Enter the vault PIN", false)
	if err != nil {
		return err
	}
	phrase, err := ui.RunPhraseForm()
	if err != nil {
		return err
	}
	if err := engine.RepairShares(pin, phrase); err != nil {
		return err
	}
	fmt.Print(ui.SuccessBox())
	fmt.Println("Share sets rebuilt from the recovery phrase. The signing key was rotated.")
	return nil
}
