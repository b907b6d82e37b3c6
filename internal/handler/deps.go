package handler

import (
	"lanchat/internal/app/chat"
	"lanchat/internal/configs"
)

type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
}
