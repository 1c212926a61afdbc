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

// Command multiplex accepts TCP connections and fans each one out over a
// single framed pipe to a long-lived child process, allocating a fresh
// channel identifier per connection.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"strings"

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
	Listen      int
	Run         string
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
	myApp.Name = "multiplex"
	myApp.Usage = "accept TCP connections and tunnel them over a child process's stdio"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "listen",
			Usage: "TCP port to accept connections on",
		},
		cli.StringFlag{
			Name:  "run",
			Usage: "command to spawn; its stdin/stdout become the framed pipe",
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
			Usage: "suppress the 'channel accepted/closed' messages",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{
		Listen:      c.Int("listen"),
		Run:         c.String("run"),
		Log:         c.String("log"),
		StatsLog:    c.String("statslog"),
		StatsPeriod: c.Int("statsperiod"),
		Quiet:       c.Bool("quiet"),
	}

	if config.Listen == 0 {
		color.Red("missing required flag: --listen")
		checkError(errors.New("--listen is required"))
	}
	if config.Run == "" {
		color.Red("missing required flag: --run")
		checkError(errors.New("--run is required"))
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(errors.Wrap(err, "open log file"))
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)

	words := strings.Fields(config.Run)
	if len(words) == 0 {
		checkError(errors.Errorf("run command is empty"))
	}
	cmd := exec.Command(words[0], words[1:]...)
	cmd.Stderr = os.Stderr

	childStdin, err := cmd.StdinPipe()
	checkError(errors.Wrap(err, "open child stdin pipe"))
	childStdout, err := cmd.StdoutPipe()
	checkError(errors.Wrap(err, "open child stdout pipe"))

	checkError(errors.Wrap(cmd.Start(), "start child process"))
	log.Println("spawned:", config.Run)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Listen))
	checkError(errors.Wrap(err, "listen"))
	log.Println("listening on:", ln.Addr())

	logger := log.Default()

	stopStats := make(chan struct{})
	defer close(stopStats)
	onTable := func(table *mux.Table) {
		if config.StatsLog != "" {
			go std.StatsLogger(config.StatsLog, config.StatsPeriod, table, stopStats)
		}
	}

	err = mux.RunMultiplexer(ln, childStdout, childStdin, logger, config.Quiet, onTable)
	if err != nil {
		log.Println("multiplexer stopped:", err)
	}

	if waitErr := cmd.Wait(); waitErr != nil {
		log.Println("child process exited:", waitErr)
	}

	return nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
