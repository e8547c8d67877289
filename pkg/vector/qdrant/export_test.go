package qdrant

var ParseEndpoint = parseEndpoint
