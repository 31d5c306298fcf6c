// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package fingerprint derives a stable 32-byte identifier from host
// hardware attributes. Collection never fails; attributes that cannot be
// read degrade to the literal "unknown" and lower the stability score.
package fingerprint

import (
	"crypto/sha256"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Unknown substitutes any attribute that could not be read.
const Unknown = "unknown"

// Info holds the raw host attributes a fingerprint is computed over.
type Info struct {
	CPUID       string
	BoardSerial string
	MACs        []string
	Platform    string
}

// Collector yields host attributes. The engine takes one so tests can pin
// the reported hardware.
type Collector func() Info

// Collect reads the attributes of the current host.
func Collect() Info {
	return Info{
		CPUID:       cpuID(),
		BoardSerial: boardSerial(),
		MACs:        stableMACs(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Sum computes the fingerprint: SHA-256 over the canonical serialization
// cpu ‖ 0x00 ‖ board ‖ 0x00 ‖ sorted MACs joined by 0x00 ‖ 0x00 ‖ platform.
func (i Info) Sum() [32]byte {
	macs := make([]string, len(i.MACs))
	for j, m := range i.MACs {
		macs[j] = strings.ToLower(m)
	}
	sort.Strings(macs)

	var buf []byte
	buf = append(buf, []byte(orUnknown(i.CPUID))...)
	buf = append(buf, 0x00)
	buf = append(buf, []byte(orUnknown(i.BoardSerial))...)
	buf = append(buf, 0x00)
	if len(macs) == 0 {
		buf = append(buf, []byte(Unknown)...)
	} else {
		buf = append(buf, []byte(strings.Join(macs, "\x00"))...)
	}
	buf = append(buf, 0x00)
	buf = append(buf, []byte(orUnknown(i.Platform))...)
	return sha256.Sum256(buf)
}

// StabilityScore is the fraction of the four components that resolved to a
// real value. Below 1.0 the binding is weaker than intended and the engine
// warns at init.
func (i Info) StabilityScore() float64 {
	known := 0
	if orUnknown(i.CPUID) != Unknown {
		known++
	}
	if orUnknown(i.BoardSerial) != Unknown {
		known++
	}
	if len(i.MACs) > 0 {
		known++
	}
	if orUnknown(i.Platform) != Unknown {
		known++
	}
	return float64(known) / 4
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown
	}
	return s
}

func cpuID() string {
	if runtime.GOOS != "linux" {
		return Unknown
	}
	content, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return Unknown
	}
	for _, line := range strings.Split(string(content), "\n") {
		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(val)
		}
	}
	return Unknown
}

func boardSerial() string {
	if runtime.GOOS != "linux" {
		return Unknown
	}
	for _, path := range []string{
		"/sys/class/dmi/id/board_serial",
		"/sys/class/dmi/id/product_uuid",
	} {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(content)); s != "" {
			return s
		}
	}
	return Unknown
}

// virtualPrefixes are interface name prefixes of loopback, container and VM
// adapters whose MACs are not stable host identity.
var virtualPrefixes = []string{
	"lo", "docker", "veth", "br-", "virbr", "vmnet", "tap", "tun", "wg",
}

func stableMACs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	macs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtualName(iface.Name) {
			continue
		}
		hw := iface.HardwareAddr.String()
		if hw == "" || hw == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, strings.ToLower(hw))
	}
	sort.Strings(macs)
	return macs
}

func isVirtualName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
