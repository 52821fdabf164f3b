package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/voice-orchestrator/pkg/audio"
	"github.com/lokutor-ai/voice-orchestrator/pkg/config"
	"github.com/lokutor-ai/voice-orchestrator/pkg/memory"
	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/voice-orchestrator/pkg/persistence"
	llmProvider "github.com/lokutor-ai/voice-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voice-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voice-orchestrator/pkg/providers/tts"
	"github.com/lokutor-ai/voice-orchestrator/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := orchestrator.NewZerologLogger(cfg.Agent.LogLevel, os.Stderr)

	stt := buildSTT(cfg, logger)
	llm := buildLLM(cfg, logger)
	if cfg.Providers.LokutorAPIKey == "" {
		logger.Error("LOKUTOR_API_KEY must be set")
		os.Exit(1)
	}
	tts := ttsProvider.NewLokutorTTS(cfg.Providers.LokutorAPIKey)

	vad := orchestrator.NewRMSVAD(cfg.Audio.VADThreshold, cfg.Audio.VADSilenceDur)

	orch := orchestrator.NewWithLogger(stt, llm, tts, vad, cfg.OrchestratorConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Memory (L2 retrieval) is wired before the session starts so the
	// first turn can already retrieve prior context.
	var memStore *memory.Store
	if cfg.Memory.Enabled && cfg.Memory.DatabaseURL != "" {
		embedder := memory.NewOpenAIEmbedder(cfg.Providers.OpenAIAPIKey, cfg.Memory.EmbedModel)
		memStore, err = memory.NewStore(ctx, cfg.Memory.DatabaseURL, "cli-session", embedder, cfg.Memory.TopK)
		if err != nil {
			logger.Warn("memory store unavailable, continuing without retrieval", "error", err)
		} else {
			orch.SetMemory(memStore)
			defer memStore.Close()
		}
	}

	convLog, err := persistence.NewConversationLog(cfg.Persistence.LogDir)
	if err != nil {
		logger.Warn("conversation log unavailable", "error", err)
	}
	if convLog != nil {
		defer convLog.Close()
	}

	pool, err := persistence.OpenPool(ctx, cfg.Persistence.DatabaseURL)
	if err != nil {
		logger.Warn("diagnostics db pool unavailable", "error", err)
		pool = nil
	}
	if pool != nil {
		defer pool.Close()
	}

	session := orch.NewSessionWithDefaults("user_123")
	orch.SetSystemPrompt(session, cfg.Agent.SystemPrompt)

	stream := orch.NewManagedStream(ctx, session)
	defer stream.Close()

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, orch, func() *orchestrator.ManagedStream { return stream }, pool, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("control surface stopped", "error", err)
			}
		}()
	}

	player, err := audio.NewMalgoPlayer(cfg.Audio.SampleRate)
	if err != nil {
		logger.Error("failed to open playback device", "error", err)
		os.Exit(1)
	}
	if err := player.Start(); err != nil {
		logger.Error("failed to start playback device", "error", err)
		os.Exit(1)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Error("failed to init capture context", "error", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	captureConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	captureConfig.Capture.Format = malgo.FormatS16
	captureConfig.Capture.Channels = uint32(cfg.Audio.Channels)
	captureConfig.SampleRate = uint32(cfg.Audio.SampleRate)
	captureConfig.Alsa.NoMMap = 1

	captureDevice, err := malgo.InitDevice(mctx.Context, captureConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput == nil {
				return
			}
			_ = stream.Write(pInput)
		},
	})
	if err != nil {
		logger.Error("failed to init capture device", "error", err)
		os.Exit(1)
	}
	defer captureDevice.Uninit()

	if err := captureDevice.Start(); err != nil {
		logger.Error("failed to start capture device", "error", err)
		os.Exit(1)
	}

	logger.Info("voice agent started",
		"stt", cfg.Providers.STT, "llm", cfg.Providers.LLM, "tts", "lokutor",
		"sample_rate", cfg.Audio.SampleRate, "language", cfg.Agent.Language)

	go consumeEvents(stream, player, convLog, session)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdown(captureDevice, player, orch)
}

func consumeEvents(stream *orchestrator.ManagedStream, player *audio.MalgoPlayer, convLog *persistence.ConversationLog, session *orchestrator.ConversationSession) {
	for event := range stream.Events() {
		switch event.Type {
		case orchestrator.UserSpeaking:
			fmt.Println("🎤 listening...")
		case orchestrator.UserStopped:
			fmt.Println("⌛ transcribing...")
		case orchestrator.TranscriptFinal:
			text := event.Data.(string)
			fmt.Printf("📝 %s\n", text)
			logTurn(convLog, session.ID, "user", text)
		case orchestrator.BotThinking:
			fmt.Println("🧠 thinking...")
		case orchestrator.BotSpeaking:
			fmt.Println("🔊 speaking...")
		case orchestrator.BotResponse:
			logTurn(convLog, session.ID, "assistant", event.Data.(string))
		case orchestrator.AudioChunk:
			_ = player.Play(event.Data.([]byte))
		case orchestrator.Interrupted:
			fmt.Println("🛑 interrupted")
			player.Clear()
		case orchestrator.ErrorEvent:
			fmt.Printf("❌ %v\n", event.Data)
		}
	}
}

func logTurn(convLog *persistence.ConversationLog, sessionID, role, content string) {
	if convLog == nil {
		return
	}
	_ = convLog.Write(persistence.TurnRecord{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func shutdown(captureDevice *malgo.Device, player *audio.MalgoPlayer, orch *orchestrator.Orchestrator) {
	_ = captureDevice.Stop()
	orch.Registry().ShutdownAll()
	_ = player.Finish()
}

func buildSTT(cfg *config.Config, logger orchestrator.Logger) orchestrator.STTProvider {
	var stt orchestrator.STTProvider
	switch cfg.Providers.STT {
	case "openai":
		if cfg.Providers.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY must be set for openai STT")
			os.Exit(1)
		}
		stt = sttProvider.NewOpenAISTT(cfg.Providers.OpenAIAPIKey, "whisper-1")
	case "deepgram":
		if cfg.Providers.DeepgramAPIKey == "" {
			logger.Error("DEEPGRAM_API_KEY must be set for deepgram STT")
			os.Exit(1)
		}
		stt = sttProvider.NewDeepgramSTT(cfg.Providers.DeepgramAPIKey)
	case "assemblyai":
		if cfg.Providers.AssemblyAIAPIKey == "" {
			logger.Error("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
			os.Exit(1)
		}
		stt = sttProvider.NewAssemblyAISTT(cfg.Providers.AssemblyAIAPIKey)
	case "groq":
		fallthrough
	default:
		if cfg.Providers.GroqAPIKey == "" {
			logger.Error("GROQ_API_KEY must be set for groq STT")
			os.Exit(1)
		}
		stt = sttProvider.NewGroqSTT(cfg.Providers.GroqAPIKey, "whisper-large-v3-turbo")
	}
	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(cfg.Audio.SampleRate)
	}
	return stt
}

func buildLLM(cfg *config.Config, logger orchestrator.Logger) orchestrator.LLMProvider {
	switch cfg.Providers.LLM {
	case "openai":
		if cfg.Providers.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY must be set for openai LLM")
			os.Exit(1)
		}
		return llmProvider.NewOpenAILLM(cfg.Providers.OpenAIAPIKey, cfg.Providers.LLMModel)
	case "anthropic":
		if cfg.Providers.AnthropicAPIKey == "" {
			logger.Error("ANTHROPIC_API_KEY must be set for anthropic LLM")
			os.Exit(1)
		}
		return llmProvider.NewAnthropicLLM(cfg.Providers.AnthropicAPIKey, "claude-3-5-sonnet-20241022")
	case "google":
		if cfg.Providers.GoogleAPIKey == "" {
			logger.Error("GOOGLE_API_KEY must be set for google LLM")
			os.Exit(1)
		}
		return llmProvider.NewGoogleLLM(cfg.Providers.GoogleAPIKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if cfg.Providers.GroqAPIKey == "" {
			logger.Error("GROQ_API_KEY must be set for groq LLM")
			os.Exit(1)
		}
		return llmProvider.NewGroqLLM(cfg.Providers.GroqAPIKey, cfg.Providers.LLMModel)
	}
}
