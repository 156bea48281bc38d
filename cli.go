package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	dispenserlog "github.com/sweetbit-io/dispenser-setup/internal/log"
	"github.com/sweetbit-io/dispenser-setup/internal/tui"
)

const defaultPollInterval = 2 * time.Second

func runTUI(client *dispenser.Client, prompt *tui.Prompt, opts tui.Options) error {
	m := tui.New(client, prompt, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if prompt != nil {
		prompt.SetSender(p.Send)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fwd := tui.NewForwarder(p.Send)
	stop := client.Watch(fwd.Publish)
	defer stop()
	go fwd.Run(ctx)

	logs := make(chan tea.Msg, 64)
	dispenserlog.SetOutput(logs)
	defer dispenserlog.SetOutput(nil)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-logs:
				p.Send(msg)
			}
		}
	}()

	defer client.Disconnect()
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

// pair connects to a dispenser and reads it, or explains why it couldn't.
func pair(ctx context.Context, client *dispenser.Client) (dispenser.State, error) {
	if !client.State().Supported {
		return client.State(), fmt.Errorf("bluetooth is unavailable: %w", dispenser.ErrNotSupported)
	}
	client.Connect(ctx)
	st := client.State()
	if st.Err != nil {
		// The link may be open even though reading the dispenser failed.
		if st.Connected {
			client.Disconnect()
		}
		return client.State(), st.Err
	}
	if !st.Connected {
		return st, fmt.Errorf("no dispenser found: %w", dispenser.ErrNotFound)
	}
	return st, nil
}

type statusOutput struct {
	Device   string `json:"device"`
	Address  string `json:"address"`
	Status   string `json:"status"`
	OnionAPI string `json:"onionApi"`
}

func runStatus(ctx context.Context, w io.Writer, jsonOut bool, client *dispenser.Client) error {
	st, err := pair(ctx, client)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	out := statusOutput{Device: st.Device.Name, Address: st.Device.Address}
	if st.Dispenser != nil {
		out.Status = st.Dispenser.Status
		out.OnionAPI = st.Dispenser.OnionAPI
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Device: %s\n", st.Device)
	fmt.Fprintf(w, "Status: %s\n", out.Status)
	fmt.Fprintf(w, "Onion API: %s\n", out.OnionAPI)
	return nil
}

func formatNetwork(n dispenser.Network) string {
	strength := "n/a"
	if n.Strength > 0 {
		strength = fmt.Sprintf("%d%%", n.Strength)
	}
	return fmt.Sprintf("%s\t%s\t%s", n.SSID, strength, n.Encryption.Kind())
}

func runScan(ctx context.Context, w io.Writer, jsonOut bool, duration time.Duration, client *dispenser.Client) error {
	if _, err := pair(ctx, client); err != nil {
		return err
	}
	defer client.Disconnect()

	client.ScanWifi(ctx)
	if err := client.State().Err; err != nil {
		return err
	}

	// Results trickle in as notifications.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
	}

	networks := sortNetworks(client.State().AvailableWifis)
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(networks)
	}
	for _, n := range networks {
		fmt.Fprintln(w, formatNetwork(n))
	}
	return nil
}

func runJoin(ctx context.Context, w io.Writer, ssid, passphrase string, wait, poll time.Duration, client *dispenser.Client) error {
	st, err := pair(ctx, client)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if n, ok := dispenser.FindNetwork(st.AvailableWifis, ssid); ok && n.Encryption.NeedsCredential() && passphrase == "" {
		return fmt.Errorf("%s needs a passphrase", ssid)
	}

	client.ConnectWifi(ctx, ssid, passphrase)
	if err := client.State().Err; err != nil {
		return err
	}
	fmt.Fprintf(w, "Sent credentials for %s, waiting for the dispenser...\n", ssid)

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("dispenser didn't report a connection to %s in %s", ssid, wait)
		case <-ticker.C:
		}

		client.ForceUpdate(ctx)
		st := client.State()
		if st.Dispenser == nil {
			continue
		}
		switch tui.InterpretStatus(st.Dispenser.Status) {
		case tui.OutcomeConnected:
			fmt.Fprintf(w, "Connected to %s\n", ssid)
			return nil
		case tui.OutcomeUnconnected:
			return fmt.Errorf("dispenser couldn't join %s", ssid)
		case tui.OutcomeFailed:
			return fmt.Errorf("dispenser joined %s but has no internet connection", ssid)
		}
	}
}

func runQR(ctx context.Context, w io.Writer, client *dispenser.Client) error {
	st, err := pair(ctx, client)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if st.Dispenser == nil {
		return fmt.Errorf("dispenser has not been read: %w", dispenser.ErrNotAvailable)
	}
	code, err := tui.GenerateEndpointQRCode(st.Dispenser.OnionAPI)
	if err != nil {
		return err
	}
	fmt.Fprint(w, code)
	fmt.Fprintln(w, tui.EndpointURL(st.Dispenser.OnionAPI))
	return nil
}
