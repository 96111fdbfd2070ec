package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Broker: BrokerConfig{
			URL:      "${BROKER_URL}",
			Queue:    "sofia.tasks",
			Workers:  4,
			Prefetch: 1,
		},
		AI: AIConfig{
			APIKey:          "${GEMINI_API_KEY}",
			Model:           "gemini-2.5-flash",
			Temperature:     0.7,
			MaxOutputTokens: 1024,
			TimeoutSeconds:  30,
			CacheSize:       128,
		},
		Knowledge: KnowledgeConfig{
			Path: "dinamica_sports_knowledge.json",
		},
		Store: StoreConfig{
			DBPath: "~/.sofia/sofia.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				VerifyToken:   "${VERIFY_TOKEN_WHATSAPP}",
				AppSecret:     "${WHATSAPP_APP_SECRET}",
				AccessToken:   "${WHATSAPP_TOKEN}",
				PhoneNumberID: "${WHATSAPP_PHONE_ID}",
			},
			Messenger: MessengerConfig{
				VerifyToken: "${VERIFY_TOKEN_FACEBOOK}",
				AppSecret:   "${FACEBOOK_APP_SECRET}",
				AccessToken: "${FACEBOOK_PAGE_ACCESS_TOKEN}",
				PageID:      "${FACEBOOK_PAGE_ID}",
			},
		},
		Worker: WorkerConfig{
			MaxAttempts:       3,
			RetryDelaySeconds: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
