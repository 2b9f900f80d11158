package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/iceagent/ice"
	"github.com/lanikai/iceagent/internal/signaling"
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	if (flagListen == "") == (flagConnect == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --listen or --connect is required")
		os.Exit(1)
	}

	var err error
	if flagListen != "" {
		err = runListener()
	} else {
		err = runDialer()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAgent(role ice.Role) (*ice.Agent, error) {
	a := ice.NewAgent()
	a.Configure(randomCredential(4), randomCredential(16), role)
	a.EnableIPv6(flagEnableIPv6)
	if flagStunAddress != "" {
		if err := a.AddStunServer(flagStunAddress); err != nil {
			return nil, err
		}
	}
	a.OnStateChange(func(s ice.State) {
		fmt.Fprintf(os.Stderr, "[%s] state: %s\n", role, s)
	})
	if err := a.GatherCandidates(); err != nil {
		return nil, err
	}
	return a, nil
}

func runListener() error {
	agent, err := newAgent(ice.RoleControlled)
	if err != nil {
		return err
	}
	defer agent.Close()

	return signaling.Listen(flagListen, func(session *signaling.Session) {
		if err := runSession(agent, session); err != nil {
			fmt.Fprintln(os.Stderr, "session:", err)
		}
	})
}

func runDialer() error {
	agent, err := newAgent(ice.RoleControlling)
	if err != nil {
		return err
	}
	defer agent.Close()

	session, err := signaling.Dial(flagConnect)
	if err != nil {
		return err
	}
	return runSession(agent, session)
}

// runSession performs the one-shot description exchange and then drives the
// interactive send/receive loop until stdin closes.
func runSession(agent *ice.Agent, session *signaling.Session) error {
	waitGatheringSettled(agent)

	if err := session.Send(agent.LocalDescription()); err != nil {
		return err
	}

	select {
	case remote := <-session.Remote:
		if err := agent.SetRemoteDescription(remote); err != nil {
			return err
		}
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for peer's description")
	}

	go func() {
		for line := range session.RemoteCandidates {
			if err := agent.AddRemoteCandidate(line); err != nil {
				fmt.Fprintln(os.Stderr, "add trickled remote candidate:", err)
			}
		}
		agent.SetRemoteGatheringDone()
	}()

	agent.OnData(func(data []byte) {
		fmt.Printf("< %s\n", data)
	})

	fmt.Fprintln(os.Stderr, "type a line and press enter to send it to the peer")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := agent.Send([]byte(line)); err != nil {
			fmt.Fprintln(os.Stderr, "send:", err)
		}
	}
	return nil
}

// waitGatheringSettled gives GatherCandidates a brief window to produce
// server-reflexive candidates before the first description is sent, rather
// than trickling every candidate over its own signaling message.
func waitGatheringSettled(agent *ice.Agent) {
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && !agent.GatheringDone() {
		time.Sleep(20 * time.Millisecond)
	}
}

func randomCredential(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
