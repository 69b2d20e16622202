package swr

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/agentuity/go-swr/swr")
