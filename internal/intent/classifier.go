// Package intent maps a user message to the conversation action it asks for.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Intent string

const (
	Question   Intent = "question"
	Scheduling Intent = "scheduling"
	Contact    Intent = "contact"
	Reset      Intent = "reset"
	Exit       Intent = "exit"
	OptOut     Intent = "opt_out"
	OptIn      Intent = "opt_in"
)

type Classifier interface {
	Classify(text string) Intent
}

// KeywordClassifier matches accent- and case-insensitive keywords on word
// boundaries. Reset and exit are commands: the whole message must be one of
// their keywords, so "can I cancel my order" stays a question. Opt-out and
// opt-in accept a single-word keyword only as the whole message, and a
// multi-word phrase anywhere in it.
type KeywordClassifier struct {
	reset      map[string]struct{}
	exit       map[string]struct{}
	optOut     command
	optIn      command
	scheduling [][]string
	contact    [][]string
}

var (
	defaultReset = []string{"menu", "menú", "reiniciar", "reset", "/reset", "/menu", "cancelar", "inicio", "volver"}
	defaultExit  = []string{"salir", "adios", "adiós", "chao", "hasta luego", "terminar", "finalizar", "bye", "goodbye", "exit", "quit"}

	defaultOptOut = []string{
		"baja", "darme de baja", "unsubscribe", "stop", "no quiero mensajes", "no quiero recibir mensajes",
		"cancelar mensajes", "detener mensajes", "no más mensajes", "desuscribir", "quitar suscripción",
	}
	defaultOptIn = []string{"start", "alta", "subscribe", "quiero mensajes", "iniciar mensajes", "continuar mensajes"}

	defaultScheduling = []string{
		"agendar", "agenda", "agendar cita", "quiero agendar", "cita", "reunión", "reuniones", "reunir",
		"calendario", "calendly", "programar", "disponibilidad", "horarios disponibles", "llamada",
		"llamarme", "videollamada", "consultoría", "zoom", "meet", "teams",
		"schedule", "appointment", "meeting", "book a call", "book a meeting", "booking", "calendar", "video call",
	}
	defaultContact = []string{
		"contacto", "contactar", "comunicarme", "email", "e-mail", "correo", "teléfono", "whatsapp",
		"número", "celular", "móvil", "dirección", "ubicación", "sitio web", "redes sociales",
		"contact", "phone", "address", "website",
	}
)

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		reset:      phraseSet(defaultReset),
		exit:       phraseSet(defaultExit),
		optOut:     newCommand(defaultOptOut),
		optIn:      newCommand(defaultOptIn),
		scheduling: phraseList(defaultScheduling),
		contact:    phraseList(defaultContact),
	}
}

func (c *KeywordClassifier) Classify(text string) Intent {
	words := tokenize(text)
	if len(words) == 0 {
		return Question
	}

	whole := strings.Join(words, " ")
	if _, ok := c.exit[whole]; ok {
		return Exit
	}
	if _, ok := c.reset[whole]; ok {
		return Reset
	}
	// opt-out first: "no quiero mensajes" contains "quiero mensajes"
	if c.optOut.matches(words) {
		return OptOut
	}
	if c.optIn.matches(words) {
		return OptIn
	}
	if containsAny(words, c.scheduling) {
		return Scheduling
	}
	if containsAny(words, c.contact) {
		return Contact
	}
	return Question
}

// Fold lower-cases s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/' && r != '-'
	})
}

func phraseSet(phrases []string) map[string]struct{} {
	m := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		m[strings.Join(tokenize(p), " ")] = struct{}{}
	}
	return m
}

func phraseList(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if words := tokenize(p); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

type command struct {
	words   map[string]struct{}
	phrases [][]string
}

func newCommand(keywords []string) command {
	c := command{words: make(map[string]struct{})}
	for _, p := range phraseList(keywords) {
		if len(p) == 1 {
			c.words[p[0]] = struct{}{}
		} else {
			c.phrases = append(c.phrases, p)
		}
	}
	return c
}

func (c command) matches(words []string) bool {
	if len(words) == 1 {
		if _, ok := c.words[words[0]]; ok {
			return true
		}
	}
	return containsAny(words, c.phrases)
}

func containsAny(words []string, phrases [][]string) bool {
	for _, p := range phrases {
		for i := 0; i+len(p) <= len(words); i++ {
			if equalWords(words[i:i+len(p)], p) {
				return true
			}
		}
	}
	return false
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
