package rest

import (
	"context"
	"net/http"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
)

// GetGatewayBot returns the gateway URL, recommended shard count and session
// start limits of the token.
func GetGatewayBot(ctx context.Context, registry *Registry) (*discord.GatewayBotResponse, error) {
	var gatewayBot discord.GatewayBotResponse

	_, err := registry.Do(ctx, &Request{
		Method: http.MethodGet,
		Route:  "/gateway/bot",
	}, &gatewayBot)
	if err != nil {
		return nil, err
	}

	return &gatewayBot, nil
}
