package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config carries the CLI settings, sourced from flags first and
// PDFHASH_* environment variables second.
type Config struct {
	Strict  bool   // fail on any structural irregularity
	Output  string // hash file destination; default sibling <input>.hash
	Verbose bool   // debug logging on stderr
	Quiet   bool   // suppress the banner
}

func LoadConfig(args []string) (*Config, []string, error) {
	fs := pflag.NewFlagSet("pdfhash", pflag.ContinueOnError)
	fs.Bool("strict", false, "fail on any structural irregularity instead of repairing")
	fs.StringP("output", "o", "", "write the hash line to this path instead of <input>.hash")
	fs.BoolP("verbose", "v", false, "log pipeline details to stderr")
	fs.BoolP("quiet", "q", false, "suppress the banner")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfhash [flags] <protected_file_path>\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PDFHASH")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, nil, err
	}

	cfg := &Config{
		Strict:  v.GetBool("strict"),
		Output:  v.GetString("output"),
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
	}
	return cfg, fs.Args(), nil
}
