package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gatewatch/internal/config"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List and validate the site profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			profiles, err := config.LoadSiteProfiles(cfg.SitesDir)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No site profiles in %s\n", cfg.SitesDir)
				return nil
			}

			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				roles := make([]string, 0, len(p.Menu.Levels))
				for _, l := range p.Menu.Levels {
					roles = append(roles, l.Role)
				}
				rows = append(rows, []string{
					p.Name,
					p.Team,
					p.Sheet,
					strings.Join(roles, " > "),
					strconv.Itoa(len(p.Login)),
					p.URL,
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"Site", "Team", "Sheet", "Menu", "Login steps", "URL"},
				rows, nil)
		},
	}
}
