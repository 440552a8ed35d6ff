package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"siegebot/internal/config"
	"siegebot/internal/storage"
	"siegebot/pkg/logx"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, adb, vision sidecar, and storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		check := func(name string, err error) {
			if err != nil {
				failed++
				fmt.Fprintf(out, "FAIL  %s: %v\n", name, err)
				return
			}
			fmt.Fprintf(out, "ok    %s\n", name)
		}

		cfg, err := config.NewManager(cfgPath).Load()
		check("config "+cfgPath, err)
		if err != nil {
			return fmt.Errorf("%d check(s) failed", failed+1)
		}

		check("adb binary", checkADB(cfg.Emulator.ADBPath))
		check("vision sidecar", checkVision(cfg.Emulator.Vision.BaseURL))
		check("storage", checkStorage(cfg.Storage))
		for _, p := range cfg.Profiles {
			check("device "+p.Device, checkDevice(cmd.Context(), cfg.Emulator.ADBPath, p.Device))
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func adbPath(configured string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return "adb"
}

func checkADB(configured string) error {
	_, err := exec.LookPath(adbPath(configured))
	return err
}

func checkDevice(ctx context.Context, configured, serial string) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, adbPath(configured), "-s", serial, "get-state").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, strings.TrimSpace(string(out)))
	}
	if state := strings.TrimSpace(string(out)); state != "device" {
		return fmt.Errorf("state %q", state)
	}
	return nil
}

func checkVision(baseURL string) error {
	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Get(strings.TrimRight(baseURL, "/") + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func checkStorage(sc config.StorageConfig) error {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		return nil // disabled is a valid setup
	}
	return st.Close()
}
