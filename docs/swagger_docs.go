// Package docs holds the general API annotations for the portscout Swagger
// document. Endpoint annotations live on the handlers in internal/api.
//
//go:generate swag init -g swagger_docs.go -d ./,../internal/api/handlers -o ./swagger --parseDependency --parseInternal
package docs

// @title portscout API
// @version 1.0
// @description TCP connect port scanner with banner fingerprinting, risk scoring and scan history.
// @description
// @description Scans run synchronously on POST /scan. Every completed scan is recorded in the
// @description history of the configured user and announced on the /ws/scans WebSocket feed.
//
// @contact.name portscout
// @contact.url https://github.com/anstrom/portscout
//
// @license.name MIT
// @license.url https://github.com/anstrom/portscout/blob/main/LICENSE
//
// @host localhost:8080
// @BasePath /api/v1
