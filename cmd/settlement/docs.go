package main

//go:generate swag init -g cmd/settlement/main.go -o docs

// @title           Fundflow Settlement API
// @version         0.1.0
// @description     Payments, investments, campaign capacity and share resale.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
