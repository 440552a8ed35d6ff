package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"siegebot/internal/config"
	"siegebot/internal/duty"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured profiles and their duties",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tDEVICE\tDUTY\tSCHEDULE\tENABLED")
		for _, p := range cfg.Profiles {
			kinds := make([]string, 0, len(p.Duties))
			for k := range p.Duties {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			if len(kinds) == 0 {
				fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", p.ID, p.Device)
				continue
			}
			for _, k := range kinds {
				d := p.Duties[k]
				name := k
				if !duty.Known(k) {
					name = k + " (unknown)"
				}
				sched := d.Schedule
				if sched == "" {
					sched = "default"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", p.ID, p.Device, name, sched, d.IsEnabled())
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "\nknown duties: "+strings.Join(duty.Kinds(), ", "))
		return nil
	},
}
