// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command remote is the responding side of a multiplex tunnel: it treats
// its own stdin/stdout as the framed pipe and dials out to a fixed address
// lazily, on first sight of each channel identifier.
package main

import (
	"log"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/muxtun/mux"
	"github.com/xtaci/muxtun/std"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// Config mirrors the flags parsed out of the CLI context.
type Config struct {
	To          string
	Log         string
	StatsLog    string
	StatsPeriod int
	Quiet       bool
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "remote"
	myApp.Usage = "dial out per channel, tunneled over this process's stdio"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "to",
			Usage: `address to dial per channel, eg: "127.0.0.1:8080"`,
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect channel/byte stats to file, aware of Go's time format, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress the 'channel dialing/closed' messages",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{
		To:          c.String("to"),
		Log:         c.String("log"),
		StatsLog:    c.String("statslog"),
		StatsPeriod: c.Int("statsperiod"),
		Quiet:       c.Bool("quiet"),
	}

	if config.To == "" {
		color.Red("missing required flag: --to")
		checkError(errors.New("--to is required"))
	}

	host, port, err := std.ParseHostPort(config.To)
	checkError(errors.Wrapf(err, "parse --to %q", config.To))
	dialAddr := host + ":" + strconv.FormatUint(port, 10)

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(errors.Wrap(err, "open log file"))
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("dial target:", dialAddr)

	logger := log.Default()

	stopStats := make(chan struct{})
	defer close(stopStats)
	onTable := func(table *mux.Table) {
		if config.StatsLog != "" {
			go std.StatsLogger(config.StatsLog, config.StatsPeriod, table, stopStats)
		}
	}

	err = mux.RunRemote("tcp", dialAddr, os.Stdin, os.Stdout, logger, config.Quiet, onTable)
	if err != nil {
		log.Println("remote stopped:", err)
	}

	return nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
