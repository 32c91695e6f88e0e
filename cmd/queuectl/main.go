package main

import (
	"log"
	"os"

	"gopkg.in/urfave/cli.v2"
)

const (
	flagConfig = "config"
	flagOutput = "output"
)

var version = "dev"

var configFlag = &cli.StringFlag{
	Name:    flagConfig,
	Usage:   "Path to the configuration file.",
	Value:   "configs/config.yaml",
	EnvVars: []string{"CONFIG_PATH"},
}

var commands = []*cli.Command{
	{
		Name:   "status",
		Usage:  "Show task counts per status and the number of scraped items",
		Flags:  []cli.Flag{configFlag},
		Action: runStatus,
	},
	{
		Name:   "failed",
		Usage:  "List failed tasks with their last error",
		Flags:  []cli.Flag{configFlag},
		Action: runFailed,
	},
	{
		Name:  "export",
		Usage: "Write scraped items and failed tasks to an XLSX file",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{
				Name:    flagOutput,
				Usage:   "Directory for the export, overrides exports.path.",
				EnvVars: []string{"EXPORT_PATH"},
			},
		},
		Action: runExport,
	},
	{
		Name:   "backup",
		Usage:  "Take one snapshot of the queue database",
		Flags:  []cli.Flag{configFlag},
		Action: runBackup,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "queuectl",
		Usage:    "Inspect and maintain the scrapeq task queue",
		Version:  version,
		Commands: commands,
	}
}

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
