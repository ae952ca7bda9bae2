// Package tcpserver implements the newline-delimited TCP chat protocol with
// an explicit auth handshake (/register, /login, /guest).
package tcpserver

import "strings"

// ANSI escape sequences for the terminal client UI.
const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"

	colorUser    = "\033[96m"
	colorBot     = "\033[95m"
	colorInfo    = "\033[94m"
	colorSuccess = "\033[92m"
	colorWarn    = "\033[93m"
	colorError   = "\033[91m"
)

// Dialog tags and continuation bars.
const (
	userTag  = colorUser + ansiBold + "🧑 Vos" + ansiReset
	userCont = colorUser + "│" + ansiReset
	botTag   = colorBot + ansiBold + "🤖 FitBot" + ansiReset
	botCont  = colorBot + "│" + ansiReset
	infoTag  = colorInfo + ansiBold + "ℹ" + ansiReset
)

const welcomeBanner = colorBot + ansiBold + "¡Hola! Soy FitBot (modo TCP)" + ansiReset + "\n" +
	colorInfo + "Contame en qué puedo ayudarte. Recordá: " +
	colorUser + "/clear" + ansiReset + colorInfo + " borra el historial guardado y " +
	colorUser + "/quit" + ansiReset + colorInfo + " termina la sesión." + ansiReset

const authReminder = colorWarn +
	"Necesitás indicar si sos invitado (/guest) o iniciar sesión (/login) o registrarte (/register)." +
	ansiReset

// formatDialog renders multi-line text under a speaker tag with continuation
// bars, e.g.:
//
//	🤖 FitBot: first line
//	│ second line
func formatDialog(header, continuation, text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return header + ":"
	}
	formatted := make([]string, 0, len(lines))
	formatted = append(formatted, header+": "+lines[0])
	for _, line := range lines[1:] {
		if line == "" {
			formatted = append(formatted, continuation)
		} else {
			formatted = append(formatted, continuation+" "+line)
		}
	}
	return strings.Join(formatted, "\n")
}

func info(text string) string    { return colorInfo + text + ansiReset }
func success(text string) string { return colorSuccess + text + ansiReset }
func warn(text string) string    { return colorWarn + text + ansiReset }
func fail(text string) string    { return colorError + text + ansiReset }
