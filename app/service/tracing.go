package service

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/vibast-solutions/ms-go-consultations/app/service")
