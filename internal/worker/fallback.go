package worker

import (
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Replies is the canned-response catalog used when AI generation is
// exhausted. Operators can override the texts with a YAML file; missing
// fields keep their defaults.
type Replies struct {
	Price                 string `yaml:"price"`
	Hours                 string `yaml:"hours"`
	Product               string `yaml:"product"`
	Generic               string `yaml:"generic"`
	TechnicalDifficulties string `yaml:"technicalDifficulties"`
}

func DefaultReplies() Replies {
	return Replies{
		Price: "No momento não consigo confirmar valores por aqui. 😅 " +
			"Dá uma olhada no nosso site que os preços estão sempre atualizados, " +
			"ou fala com nossa equipe pelo (84) 99999-0000!",
		Hours: "Nosso horário de funcionamento é de segunda a sábado, das 8h às 18h. " +
			"Qualquer dúvida, fala com nossa equipe pelo (84) 99999-0000!",
		Product: "Temos muitas novidades na loja! 🏃 Confere o catálogo completo no " +
			"nosso site, ou fala com nossa equipe pelo (84) 99999-0000 que te ajudamos a escolher!",
		Generic: "Obrigada pela mensagem! No momento estou com dificuldade para responder, " +
			"mas nossa equipe te retorna em breve. Se preferir, liga pra gente: (84) 99999-0000.",
		TechnicalDifficulties: "Desculpe, estou com um pequeno problema técnico. " +
			"Um atendente entrará em contato em breve para te ajudar!",
	}
}

// FallbackCatalog matches a user message to a canned reply by keyword.
type FallbackCatalog struct {
	replies Replies
}

// LoadCatalog reads the optional YAML reply catalog. A missing or broken
// file falls back to the built-in defaults rather than failing startup.
func LoadCatalog(path string, logger *slog.Logger) *FallbackCatalog {
	replies := DefaultReplies()
	if path == "" {
		return &FallbackCatalog{replies: replies}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("cannot read replies file, using defaults", "path", path, "err", err)
		return &FallbackCatalog{replies: replies}
	}
	if err := yaml.Unmarshal(data, &replies); err != nil {
		logger.Warn("cannot parse replies file, using defaults", "path", path, "err", err)
		return &FallbackCatalog{replies: DefaultReplies()}
	}

	// Partial files keep defaults for unset fields.
	def := DefaultReplies()
	if replies.Price == "" {
		replies.Price = def.Price
	}
	if replies.Hours == "" {
		replies.Hours = def.Hours
	}
	if replies.Product == "" {
		replies.Product = def.Product
	}
	if replies.Generic == "" {
		replies.Generic = def.Generic
	}
	if replies.TechnicalDifficulties == "" {
		replies.TechnicalDifficulties = def.TechnicalDifficulties
	}

	logger.Info("fallback replies loaded", "path", path)
	return &FallbackCatalog{replies: replies}
}

var (
	priceKeywords   = []string{"preço", "preco", "valor", "custa", "quanto"}
	hoursKeywords   = []string{"horário", "horario", "hora", "aberto", "abre", "fecha", "funciona"}
	productKeywords = []string{"produto", "tênis", "tenis", "camisa", "chuteira", "estoque", "tamanho"}
)

// Match picks the canned reply whose keyword category fits the user message.
func (c *FallbackCatalog) Match(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, priceKeywords):
		return c.replies.Price
	case containsAny(lower, hoursKeywords):
		return c.replies.Hours
	case containsAny(lower, productKeywords):
		return c.replies.Product
	}
	return c.replies.Generic
}

// TechnicalDifficulties is the best-effort message sent when delivery of a
// real reply is exhausted.
func (c *FallbackCatalog) TechnicalDifficulties() string {
	return c.replies.TechnicalDifficulties
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
