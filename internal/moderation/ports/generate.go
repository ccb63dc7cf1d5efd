package ports

//go:generate mockgen -destination=mocks/mocks.go -package=mocks moderation/internal/moderation/ports AccessGate,LivePusher
