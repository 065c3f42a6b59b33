// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mngr/pkg/display"
)

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type displayEventMsg display.Event
type displayConnectedMsg struct{}
type displayLostMsg struct{ err error }

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// displayModel mirrors the device screen
type displayModel struct {
	device    string
	state     display.State
	seen      bool
	connected bool
	lastErr   error
	events    int
	spinner   spinner.Model
	quitting  bool
}

func initialDisplayModel(device string) displayModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	return displayModel{device: device, spinner: s}
}

func (m displayModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m displayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case displayConnectedMsg:
		m.connected = true
		m.lastErr = nil

	case displayLostMsg:
		m.connected = false
		m.lastErr = msg.err
		return m, m.spinner.Tick

	case displayEventMsg:
		m.state.Apply(display.Event(msg))
		m.seen = true
		m.events++

	case spinner.TickMsg:
		if m.connected {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m displayModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	// The device screen is 40 columns wide
	screenStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(40)

	var s strings.Builder

	s.WriteString(titleStyle.Render("MNGR DISPLAY"))
	s.WriteString(" ")
	status := m.device
	if !m.connected {
		status = warningStyle.Render(m.spinner.View() + " connecting...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit", status)))
	s.WriteString("\n\n")

	if !m.seen {
		if m.lastErr != nil {
			s.WriteString(errorStyle.Render(m.lastErr.Error()))
			s.WriteString("\n")
		}
		return s.String()
	}

	var screen strings.Builder
	st := m.state
	screen.WriteString(labelStyle.Render(st.Title))
	screen.WriteString("\n\n")
	if st.SSID != "" {
		screen.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("SSID:"), valueStyle.Render(st.SSID)))
	}

	wifi := st.WiFi.Text(st.Details)
	switch st.WiFi {
	case display.WiFiError:
		screen.WriteString(errorStyle.Render(wifi))
		screen.WriteString("\n")
		screen.WriteString(headerStyle.Render(display.ResetHint))
	case display.WiFiConnected:
		screen.WriteString(valueStyle.Render(wifi))
	default:
		screen.WriteString(warningStyle.Render(wifi))
	}
	screen.WriteString("\n\n")

	screen.WriteString(st.URL1 + "\n")
	screen.WriteString(st.URL2 + "\n")

	if st.USB {
		screen.WriteString("\n")
		screen.WriteString(warningStyle.Render(display.USBText))
		screen.WriteString("\n")
	}

	s.WriteString(screenStyle.Render(strings.TrimRight(screen.String(), "\n")))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf(" %s %s   %s %s\n",
		labelStyle.Render("Last command:"), valueStyle.Render(st.Command.String()),
		labelStyle.Render("Events:"), valueStyle.Render(fmt.Sprint(m.events))))

	return s.String()
}
