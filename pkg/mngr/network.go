// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Thermoquad/mngr/pkg/display"
)

// ErrNetwork is returned when the WiFi bring-up gives up
var ErrNetwork = errors.New("network error")

// MaxRetriesMessage is shown when the last connection attempt failed
const MaxRetriesMessage = "Max retries reached. Exiting..."

// Radio is the WiFi station
type Radio interface {
	Connect(ctx context.Context) error
	IP() (net.IP, error)
}

// NetworkInfo describes a connected station
type NetworkInfo struct {
	IP      net.IP
	URLHost string
	URLIP   string
}

// ConnectNetwork draws the connection screen and brings the radio up,
// retrying with a backoff. After the last failed attempt the screen
// shows the error and ErrNetwork is returned.
func (m *Manager) ConnectNetwork(ctx context.Context) (NetworkInfo, error) {
	hostname := m.cfg.Hostname
	if hostname == "" {
		hostname = DefaultHostname
	}
	ssid := m.cfg.SSID
	if ssid == "" {
		m.loopLog.Info("no SSID found in config")
		ssid = "No SSID found"
	}

	info := NetworkInfo{
		URLHost: "http://" + hostname,
		URLIP:   "http://127.0.0.1",
	}
	m.display.Start(ssid, info.URLHost, info.URLIP)

	if m.radio == nil {
		return info, fmt.Errorf("%w: no radio", ErrNetwork)
	}

	retries := m.cfg.WiFiRetries
	for {
		err := m.radio.Connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return info, ctx.Err()
		}

		retries--
		m.loopLog.Warn("error connecting to the WiFi network", "err", err, "retries_left", retries)
		if retries <= 0 {
			m.display.WiFiStatus(display.WiFiError, "", "", MaxRetriesMessage)
			return info, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		m.display.WiFiStatus(display.WiFiError, "", "", err.Error())

		if err := m.sleep(ctx, m.cfg.WiFiBackoff); err != nil {
			return info, err
		}
		m.display.WiFiStatus(display.WiFiConnecting, "", "", "")
	}

	ip, err := m.radio.IP()
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	info.IP = ip
	info.URLIP = "http://" + ip.String()

	m.loopLog.Info("WiFi connected", "ip", ip.String())
	m.display.WiFiStatus(display.WiFiConnected, info.URLHost, info.URLIP, "")

	return info, nil
}

// HostRadio uses the host's own network interfaces.
// An empty Interface picks the first usable one.
type HostRadio struct {
	Interface string
	ip        net.IP
}

// Connect finds an up, non-loopback interface with an IPv4 address
func (r *HostRadio) Connect(ctx context.Context) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %v", err)
	}

	for _, iface := range ifaces {
		if r.Interface != "" && iface.Name != r.Interface {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				r.ip = ip4
				return nil
			}
		}
	}

	if r.Interface != "" {
		return fmt.Errorf("interface %s has no IPv4 address", r.Interface)
	}
	return fmt.Errorf("no interface with an IPv4 address")
}

// IP returns the address found by Connect
func (r *HostRadio) IP() (net.IP, error) {
	if r.ip == nil {
		return nil, fmt.Errorf("not connected")
	}
	return r.ip, nil
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
