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

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// TableStats is the subset of mux.Table's counters the stats log reads.
// Declared locally so std has no import dependency on mux; both
// multiplex/main.go and remote/main.go pass their *mux.Table in directly,
// since it already satisfies this interface.
type TableStats interface {
	Len() int
	BytesToPeerValue() int64
	BytesFromPeerValue() int64
}

// StatsLogger appends one CSV row every interval seconds to path, each row a
// snapshot of table's live channel count and cumulative byte counters. It
// runs until stopped is closed.
func StatsLogger(path string, interval int, table TableStats, stopped <-chan struct{}) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			logdir, logfile := filepath.Split(path)
			f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				log.Println(err)
				continue
			}

			w := csv.NewWriter(f)
			if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
				if err := w.Write([]string{"Unix", "Channels", "BytesToPeer", "BytesFromPeer"}); err != nil {
					log.Println(err)
				}
			}
			row := []string{
				fmt.Sprint(time.Now().Unix()),
				fmt.Sprint(table.Len()),
				fmt.Sprint(table.BytesToPeerValue()),
				fmt.Sprint(table.BytesFromPeerValue()),
			}
			if err := w.Write(row); err != nil {
				log.Println(err)
			}
			w.Flush()
			f.Close()
		}
	}
}
