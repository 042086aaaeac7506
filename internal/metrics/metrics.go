package metrics

import "expvar"

var (
	BotStarts      = expvar.NewInt("bot_starts")
	BotCrashes     = expvar.NewInt("bot_crashes")
	BotRestarts    = expvar.NewInt("bot_crash_restarts")
	SpawnFailures  = expvar.NewInt("bot_spawn_failures")
	RunningBots    = expvar.NewInt("bots_running")
	Uploads        = expvar.NewInt("uploads")
	UploadFailures = expvar.NewInt("upload_failures")
	WSClients      = expvar.NewInt("ws_clients")
)
