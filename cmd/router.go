package main

import (
	"net/http"

	"github.com/mkarlsen/consensus-router/internal/handler"
)

func setupRouter(operator *handler.OperatorHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/query", operator.Query)
	mux.HandleFunc("/status", operator.Status)
	mux.HandleFunc("/circuits", operator.Circuits)
	mux.HandleFunc("/reset", operator.Reset)
	mux.HandleFunc("/reset-all", operator.ResetAll)

	return mux
}
