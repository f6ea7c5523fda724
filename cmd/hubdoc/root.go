package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BallaAicha/hubdoc-sub000/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

type rootOptions struct {
	configFile string
	envFiles   []string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "hubdoc",
		Short:         "HubDoc documentation portal",
		Long:          "Serves the HubDoc portal: OAuth2 sign-in, documents, API catalog, project generators and guides.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("hubdoc version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, ".env files to load (default ./.env when present)")

	cmd.AddCommand(newServeCmd(opts), newKeysCmd())
	return cmd
}

// load reads .env files, then the configuration.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}
	return config.Load(o.v, o.configFile)
}
