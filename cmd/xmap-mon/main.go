// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-mon monitors the runs of a xmap-srv control server and
// sends mail alerts when a channel stops triggering or a mapping buffer
// overruns.
//
// Mail alerts are configured with the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
//
// Usage:
//
//	$> xmap-mon -addr localhost:8877 -freq 30s
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-mon"

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xiallc/Handel-Releases-sub004/xmap"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:8877", "[ip]:port of xmap-srv")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
	)

	flag.Parse()

	log.SetPrefix("xmap-mon: ")
	log.SetFlags(0)

	mon := newMonitor(*addr, *freq)
	log.Printf("monitoring xmap-srv on %q every %v...", *addr, *freq)
	mon.run(nil)
}

// status is the state of a detector channel at a given probe.
type status struct {
	active   bool
	triggers float64
	overrun  bool
}

type doer interface {
	Do(name string, args *xmap.ReqArgs) (interface{}, error)
}

type monitor struct {
	addr   string
	freq   time.Duration
	alerts map[string]int // keep track of the number of alerts per key

	dial func(addr string) (doer, func() error, error)
	send func(subject, body string)
}

func newMonitor(addr string, freq time.Duration) *monitor {
	return &monitor{
		addr:   addr,
		freq:   freq,
		alerts: make(map[string]int),
		dial: func(addr string) (doer, func() error, error) {
			cli, err := xmap.Dial(addr)
			if err != nil {
				return nil, nil, err
			}
			return cli, cli.Close, nil
		},
		send: alertMail,
	}
}

func (mon *monitor) run(quit chan int) {
	var (
		tick  = time.NewTicker(mon.freq)
		table = make(map[int]status)
	)

	defer tick.Stop()

	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			cur, err := mon.probe()
			if err != nil {
				log.Printf("could not probe xmap-srv: %+v", err)
				mon.alert("xmap-srv", fmt.Sprintf("could not probe xmap-srv on %q: %+v", mon.addr, err))
				continue
			}
			mon.compare(table, cur)
			table = cur
		}
	}
}

// probe collects the status of all the detector channels.
func (mon *monitor) probe() (map[int]status, error) {
	cli, closer, err := mon.dial(mon.addr)
	if err != nil {
		return nil, err
	}
	defer closer()

	v, err := cli.Do("channels", nil)
	if err != nil {
		return nil, err
	}
	chans, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid channels reply %T", v)
	}

	table := make(map[int]status, len(chans))
	for _, c := range chans {
		f, ok := c.(float64)
		if !ok {
			return nil, fmt.Errorf("invalid detector channel %v (%T)", c, c)
		}
		ch := int(f)
		st, err := probeChan(cli, ch)
		if err != nil {
			return nil, fmt.Errorf("could not probe channel %d: %w", ch, err)
		}
		table[ch] = st
	}
	return table, nil
}

func probeChan(cli doer, ch int) (status, error) {
	var st status
	v, err := cli.Do("run_data", &xmap.ReqArgs{DetChan: ch, Name: "run_active"})
	if err != nil {
		return st, err
	}
	st.active, _ = v.(bool)

	v, err = cli.Do("run_data", &xmap.ReqArgs{DetChan: ch, Name: "triggers"})
	if err != nil {
		return st, err
	}
	st.triggers, _ = v.(float64)

	v, err = cli.Do("run_data", &xmap.ReqArgs{DetChan: ch, Name: "mapping_mode"})
	if err != nil {
		return st, err
	}
	if mode, _ := v.(float64); mode == 0 {
		return st, nil
	}

	v, err = cli.Do("run_data", &xmap.ReqArgs{DetChan: ch, Name: "buffer_overrun"})
	if err != nil {
		return st, err
	}
	st.overrun, _ = v.(bool)
	return st, nil
}

func (mon *monitor) compare(ref, chk map[int]status) {
	chans := make([]int, 0, len(chk))
	for ch := range chk {
		chans = append(chans, ch)
	}
	sort.Ints(chans)

	for _, ch := range chans {
		cur := chk[ch]
		if !cur.active {
			continue
		}
		if cur.overrun {
			mon.alert(fmt.Sprintf("chan-%d-overrun", ch), fmt.Sprintf(
				"channel %d: mapping buffer overrun", ch,
			))
		}
		old, ok := ref[ch]
		if !ok || !old.active {
			// run just started.
			// nothing to compare against.
			continue
		}
		if cur.triggers == old.triggers {
			mon.alert(fmt.Sprintf("chan-%d-stalled", ch), fmt.Sprintf(
				"channel %d: no trigger in the last %v (triggers=%v)",
				ch, mon.freq, cur.triggers,
			))
		}
	}
}

func (mon *monitor) alert(key, msg string) {
	log.Printf("%s", msg)
	mon.alerts[key]++

	const maxAlerts = 5
	if mon.alerts[key] < maxAlerts {
		mon.send(fmt.Sprintf("[xmap-mon] alert: %s", key), msg)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(subject, body string) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := newMail(subject, body)
	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func newMail(subject, body string) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
