// Copyright 2025 Relay Labs, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"relay/sdk/config"
)

// defaultConfigPath points at the per-user profile file.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.yaml"
	}
	return filepath.Join(home, ".relay", "profiles.yaml")
}

// profilesCmd returns the profiles subcommand.
func profilesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect profile configuration",
		Long:  `Inspect the named endpoint profiles relayctl and SDK clients resolve against.`,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the profile configuration file")

	cmd.AddCommand(profilesListCmd(&configPath))
	cmd.AddCommand(profilesShowCmd(&configPath))

	return cmd
}

// profilesListCmd returns the command for listing profiles.
func profilesListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured profiles",
		Long: `List every profile in the configuration file.

Examples:
  relayctl profiles list
  relayctl profiles list --config ./profiles.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(file.Profiles))
			for name := range file.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			active := os.Getenv(config.EnvProfile)
			if active == "" {
				active = config.DefaultProfileName
			}

			fmt.Printf("Profiles in %s (%d):\n", *configPath, len(names))
			fmt.Println(strings.Repeat("-", 50))
			for i, name := range names {
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Printf("%3d. %s %-16s %d endpoint(s)\n", i+1, marker, name, len(file.Profiles[name].Endpoints))
			}
			fmt.Println(strings.Repeat("-", 50))
			fmt.Println("* resolved when no --profile flag is given")

			return nil
		},
	}
}

// profilesShowCmd returns the command for printing one profile.
func profilesShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show one profile's settings",
		Long: `Show the endpoints and settings of a single profile.

Examples:
  relayctl profiles show staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			profile, err := file.Lookup(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Profile: %s\n", args[0])
			services := make([]string, 0, len(profile.Endpoints))
			for service := range profile.Endpoints {
				services = append(services, service)
			}
			sort.Strings(services)
			for _, service := range services {
				fmt.Printf("  endpoint[%s]: %s\n", service, profile.Endpoints[service])
			}
			if profile.Audience != "" {
				fmt.Printf("  audience:      %s\n", profile.Audience)
			}
			if profile.APIVersion != "" {
				fmt.Printf("  api_version:   %s\n", profile.APIVersion)
			}
			if profile.Insecure {
				fmt.Println("  insecure:      true")
			}

			return nil
		},
	}
}
