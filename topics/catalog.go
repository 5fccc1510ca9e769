package topics

import (
	"log/slog"

	"github.com/glimte/voicebus/contracts"
)

// Topic names used across the platform.
const (
	// AudioInputService
	AudioStarted          = "Audio.Started"
	AudioStopped          = "Audio.Stopped"
	AudioStreamMicrophone = "Audio.Stream.Microphone"
	AudioStreamWebSocket  = "Audio.Stream.WebSocket"
	AudioStreamFile       = "Audio.Stream.File"
	AudioStreamGeneric    = "Audio.Stream.Generic"
	AudioStreamStarted    = "Audio.Stream.Started"
	AudioStreamStopped    = "Audio.Stream.Stopped"
	AudioInputControl     = "Audio.Input.Control"

	// WakeWordService
	WakeWordDetected = "WakeWord.Detected"
	WakeWordTimeout  = "WakeWord.Timeout"
	WakeWordControl  = "WakeWord.Control"

	// TranscriptionService
	TranscriptionResult         = "Transcription.Result"
	TranscriptionResultRealtime = "Transcription.Result.Realtime"
	TranscriptionResultAccurate = "Transcription.Result.Accurate"
	TranscriptionResultFinal    = "Transcription.Result.Final"
	TranscriptionError          = "Transcription.Error"
	TranscriptionControl        = "Transcription.Control"

	// STTCoordinatorService
	STTSessionStarted     = "STT.Session.Started"
	STTSessionEnded       = "STT.Session.Ended"
	STTUserSpeechCaptured = "STT.UserSpeechCaptured"
	STTCoordinatorControl = "STT.Coordinator.Control"

	// TTSService
	TTSRequest = "TTS.Request"
	TTSStop    = "TTS.Stop"
	TTSPause   = "TTS.Pause"
	TTSResume  = "TTS.Resume"
	TTSControl = "TTS.Control"
	TTSStarted = "TTS.Started"
	TTSStopped = "TTS.Stopped"
	TTSPaused  = "TTS.Paused"
	TTSResumed = "TTS.Resumed"
	TTSError   = "TTS.Error"

	// OrchestratorService
	OrchestratorUserInput   = "Orchestrator.UserInput"
	ExternalUserInput       = "External.UserInput"
	UIUserInput             = "UI.UserInput"
	OrchestratorLLMResponse = "Orchestrator.LLMResponse"
	OrchestratorToolRequest = "Orchestrator.ToolRequest"
	OrchestratorToolResult  = "Orchestrator.ToolResult"

	// DBService
	DBStoreMessage       = "DB.StoreMessage"
	DBStoreCronJob       = "DB.StoreCronJob"
	DBDeleteCronJob      = "DB.DeleteCronJob"
	DBGetRecentMessages  = "DB.GetRecentMessages"
	DBGetMessagesForDate = "DB.GetMessagesForDate"
	DBGetCronJobs        = "DB.GetCronJobs"
	DBMessagesResponse   = "DB.MessagesResponse"

	// SchedulerService
	SchedulerScheduleJob  = "Scheduler.ScheduleJob"
	SchedulerCancelJob    = "Scheduler.CancelJob"
	SchedulerPauseJob     = "Scheduler.PauseJob"
	SchedulerResumeJob    = "Scheduler.ResumeJob"
	SchedulerJobFired     = "Scheduler.JobFired"
	SchedulerJobCompleted = "Scheduler.JobCompleted"

	// ToolingService
	ToolingInitialized   = "Tooling.Initialized"
	ToolingReloaded      = "Tooling.Reloaded"
	ToolingChanged       = "Tooling.Changed"
	ToolingGetTools      = "Tooling.GetTools"
	ToolingQueryTools    = "Tooling.QueryTools"
	ToolingGetToolByName = "Tooling.GetToolByName"
	ToolingGetStats      = "Tooling.GetStats"
	ToolingReloadMCP     = "Tooling.ReloadMCP"
)

// ServiceCatalog groups the topics owned by one service
type ServiceCatalog struct {
	Service string
	Topics  []Definition
}

// DefaultCatalog returns the topic definitions of every platform service.
func DefaultCatalog() []ServiceCatalog {
	return []ServiceCatalog{
		{Service: "AudioInputService", Topics: []Definition{
			{Topic: AudioStarted, MessageType: contracts.KindEvent, PayloadClass: "AudioStreamStarted", Description: "Audio started (legacy)"},
			{Topic: AudioStopped, MessageType: contracts.KindEvent, PayloadClass: "AudioStreamStopped", Description: "Audio stopped (legacy)"},
			{Topic: AudioStreamMicrophone, MessageType: contracts.KindEvent, PayloadClass: "AudioChunk", Description: "Audio chunk from microphone"},
			{Topic: AudioStreamWebSocket, MessageType: contracts.KindEvent, PayloadClass: "AudioChunk", Description: "Audio chunk from WebSocket"},
			{Topic: AudioStreamFile, MessageType: contracts.KindEvent, PayloadClass: "AudioChunk", Description: "Audio chunk from file"},
			{Topic: AudioStreamGeneric, MessageType: contracts.KindEvent, PayloadClass: "AudioChunk", Description: "Audio chunk from generic source"},
			{Topic: AudioStreamStarted, MessageType: contracts.KindEvent, PayloadClass: "AudioStreamStarted", Description: "Audio stream started"},
			{Topic: AudioStreamStopped, MessageType: contracts.KindEvent, PayloadClass: "AudioStreamStopped", Description: "Audio stream stopped"},
			{Topic: AudioInputControl, MessageType: contracts.KindCommand, PayloadClass: "AudioInputControl", Description: "Control audio input (start/stop/pause/resume)"},
		}},
		{Service: "WakeWordService", Topics: []Definition{
			{Topic: WakeWordDetected, MessageType: contracts.KindEvent, PayloadClass: "WakeWordDetected", Description: "Wake word detected in audio stream"},
			{Topic: WakeWordTimeout, MessageType: contracts.KindEvent, PayloadClass: "WakeWordTimeout", Description: "Wake word detection timed out"},
			{Topic: WakeWordControl, MessageType: contracts.KindCommand, PayloadClass: "WakeWordControl", Description: "Control wake word detection"},
		}},
		{Service: "TranscriptionService", Topics: []Definition{
			{Topic: TranscriptionResult, MessageType: contracts.KindEvent, PayloadClass: "TranscriptionResult", Description: "Transcription result (any type)"},
			{Topic: TranscriptionResultRealtime, MessageType: contracts.KindEvent, PayloadClass: "TranscriptionResult", Description: "Realtime transcription result (low latency)"},
			{Topic: TranscriptionResultAccurate, MessageType: contracts.KindEvent, PayloadClass: "TranscriptionResult", Description: "Accurate transcription result (high accuracy)"},
			{Topic: TranscriptionResultFinal, MessageType: contracts.KindEvent, PayloadClass: "TranscriptionResult", Description: "Final transcription result"},
			{Topic: TranscriptionError, MessageType: contracts.KindEvent, PayloadClass: "TranscriptionError", Description: "Transcription error"},
			{Topic: TranscriptionControl, MessageType: contracts.KindCommand, PayloadClass: "TranscriptionControl", Description: "Control transcription (start/stop/pause/resume)"},
		}},
		{Service: "STTCoordinatorService", Topics: []Definition{
			{Topic: STTSessionStarted, MessageType: contracts.KindEvent, PayloadClass: "STTSessionStarted", Description: "STT session started (wake word detected)"},
			{Topic: STTSessionEnded, MessageType: contracts.KindEvent, PayloadClass: "STTSessionEnded", Description: "STT session ended"},
			{Topic: STTUserSpeechCaptured, MessageType: contracts.KindEvent, PayloadClass: "STTUserSpeechCaptured", Description: "User speech captured and transcribed"},
			{Topic: STTCoordinatorControl, MessageType: contracts.KindCommand, PayloadClass: "STTCoordinatorControl", Description: "Control STT coordinator"},
		}},
		{Service: "TTSService", Topics: []Definition{
			{Topic: TTSRequest, MessageType: contracts.KindCommand, PayloadClass: "TTSRequest", Description: "Request TTS playback"},
			{Topic: TTSStop, MessageType: contracts.KindCommand, PayloadClass: "TTSStop", Description: "Stop TTS playback"},
			{Topic: TTSPause, MessageType: contracts.KindCommand, PayloadClass: "TTSPause", Description: "Pause TTS playback"},
			{Topic: TTSResume, MessageType: contracts.KindCommand, PayloadClass: "TTSResume", Description: "Resume TTS playback"},
			{Topic: TTSControl, MessageType: contracts.KindCommand, PayloadClass: "TTSControl", Description: "Control TTS (pause/resume/stop)"},
			{Topic: TTSStarted, MessageType: contracts.KindEvent, PayloadClass: "TTSStarted", Description: "TTS playback started"},
			{Topic: TTSStopped, MessageType: contracts.KindEvent, PayloadClass: "TTSStopped", Description: "TTS playback stopped"},
			{Topic: TTSPaused, MessageType: contracts.KindEvent, PayloadClass: "TTSPaused", Description: "TTS playback paused"},
			{Topic: TTSResumed, MessageType: contracts.KindEvent, PayloadClass: "TTSResumed", Description: "TTS playback resumed"},
			{Topic: TTSError, MessageType: contracts.KindEvent, PayloadClass: "TTSError", Description: "TTS error occurred"},
		}},
		{Service: "OrchestratorService", Topics: []Definition{
			{Topic: OrchestratorUserInput, MessageType: contracts.KindCommand, PayloadClass: "UserInput", Description: "User input for processing"},
			{Topic: ExternalUserInput, MessageType: contracts.KindCommand, PayloadClass: "UserInput", Description: "User input from external source"},
			{Topic: UIUserInput, MessageType: contracts.KindCommand, PayloadClass: "UserInput", Description: "User input from UI"},
			{Topic: OrchestratorLLMResponse, MessageType: contracts.KindEvent, PayloadClass: "LLMResponseReady", Description: "LLM response ready"},
			{Topic: OrchestratorToolRequest, MessageType: contracts.KindCommand, PayloadClass: "ToolRequest", Description: "Tool execution request"},
			{Topic: OrchestratorToolResult, MessageType: contracts.KindEvent, PayloadClass: "ToolResult", Description: "Tool execution result"},
		}},
		{Service: "DBService", Topics: []Definition{
			{Topic: DBStoreMessage, MessageType: contracts.KindCommand, PayloadClass: "StoreMessage", Description: "Store message in history"},
			{Topic: DBStoreCronJob, MessageType: contracts.KindCommand, PayloadClass: "StoreCronJob", Description: "Store cron job"},
			{Topic: DBDeleteCronJob, MessageType: contracts.KindCommand, PayloadClass: "DeleteCronJob", Description: "Delete cron job"},
			{Topic: DBGetRecentMessages, MessageType: contracts.KindQuery, PayloadClass: "GetRecentMessages", Description: "Get recent messages"},
			{Topic: DBGetMessagesForDate, MessageType: contracts.KindQuery, PayloadClass: "GetMessagesForDate", Description: "Get messages for a specific date"},
			{Topic: DBGetCronJobs, MessageType: contracts.KindQuery, PayloadClass: "GetCronJobs", Description: "Get cron jobs"},
			{Topic: DBMessagesResponse, MessageType: contracts.KindReply, PayloadClass: "MessagesResponse", Description: "Response with messages"},
		}},
		{Service: "SchedulerService", Topics: []Definition{
			{Topic: SchedulerScheduleJob, MessageType: contracts.KindCommand, PayloadClass: "ScheduleJob", Description: "Schedule a job"},
			{Topic: SchedulerCancelJob, MessageType: contracts.KindCommand, PayloadClass: "CancelJob", Description: "Cancel a scheduled job"},
			{Topic: SchedulerPauseJob, MessageType: contracts.KindCommand, PayloadClass: "PauseJob", Description: "Pause a scheduled job"},
			{Topic: SchedulerResumeJob, MessageType: contracts.KindCommand, PayloadClass: "ResumeJob", Description: "Resume a paused job"},
			{Topic: SchedulerJobFired, MessageType: contracts.KindEvent, PayloadClass: "SchedulerJobFired", Description: "Scheduled job fired"},
			{Topic: SchedulerJobCompleted, MessageType: contracts.KindEvent, PayloadClass: "SchedulerJobCompleted", Description: "Scheduled job completed"},
		}},
		{Service: "ToolingService", Topics: []Definition{
			{Topic: ToolingInitialized, MessageType: contracts.KindEvent, PayloadClass: "ToolsInitialized", Description: "Tools initialized"},
			{Topic: ToolingReloaded, MessageType: contracts.KindEvent, PayloadClass: "ToolsReloaded", Description: "Tools reloaded"},
			{Topic: ToolingChanged, MessageType: contracts.KindEvent, PayloadClass: "ToolsChanged", Description: "Tools added, removed, or updated"},
			{Topic: ToolingGetTools, MessageType: contracts.KindQuery, PayloadClass: "GetToolsQuery", Description: "Get available tools"},
			{Topic: ToolingQueryTools, MessageType: contracts.KindQuery, PayloadClass: "QueryToolsQuery", Description: "Query tools with filters"},
			{Topic: ToolingGetToolByName, MessageType: contracts.KindQuery, PayloadClass: "GetToolByNameQuery", Description: "Get a specific tool by name"},
			{Topic: ToolingGetStats, MessageType: contracts.KindQuery, PayloadClass: "GetToolStatsQuery", Description: "Get tooling statistics"},
			{Topic: ToolingReloadMCP, MessageType: contracts.KindCommand, PayloadClass: "ReloadMCPToolsCommand", Description: "Reload MCP tools"},
		}},
	}
}

// RegisterCatalog registers every service in catalog with r.
func RegisterCatalog(r *Registry, catalog []ServiceCatalog) error {
	for _, svc := range catalog {
		if err := r.RegisterServiceTopics(svc.Service, svc.Topics); err != nil {
			return err
		}
	}
	r.logger.Info("registered service topics",
		slog.Int("topics", r.Len()),
		slog.Int("services", len(r.AllServices())))
	return nil
}

// NewDefaultRegistry returns a registry preloaded with DefaultCatalog.
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	if err := RegisterCatalog(r, DefaultCatalog()); err != nil {
		// the built-in catalog only contains literal topics
		panic(err)
	}
	return r
}
