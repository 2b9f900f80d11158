package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagListen      string
	flagConnect     string
	flagStunAddress string
	flagEnableIPv6  bool
	flagHelp        bool
)

func init() {
	flag.StringVarP(&flagListen, "listen", "l", "", "Listen for a peer on addr:port and act as the controlled agent")
	flag.StringVarP(&flagConnect, "connect", "c", "", "Connect to ws://addr:port/ws and act as the controlling agent")
	flag.StringVarP(&flagStunAddress, "stun-address", "s", "", "STUN server address for reflexive candidate gathering")
	flag.BoolVarP(&flagEnableIPv6, "enable-ipv6", "6", false, "Permit IPv6 host candidates")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `ICE connectivity-check agent (RFC 8445 / RFC 5389)

Usage:
  iceagentd -l :9000
  iceagentd -c ws://peer.example.com:9000/ws

Network:
  -l, --listen=ADDR       Listen for a peer and act as the controlled agent
  -c, --connect=URL       Connect to a listening peer and act as the controlling agent
  -s, --stun-address=HOST:PORT  STUN server address used for reflexive gathering
  -6, --enable-ipv6       Permit IPv6 host candidates (default: disabled)

Miscellaneous:
  -h, --help              Prints this help message and exits

Once connected, lines typed on stdin are sent to the peer over the
selected candidate pair; data received from the peer is printed to
stdout.`

func help() {
	color.New(color.FgCyan).Println("iceagentd")
	fmt.Println(helpString)
}
