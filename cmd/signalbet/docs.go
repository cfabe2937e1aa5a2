package main

//go:generate swag init -g cmd/signalbet/main.go -o docs

// @title           Signalbet API
// @version         0.1.0
// @description     Automation control, betting rules, bet ledger and signal messages.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
