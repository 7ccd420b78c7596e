// Package describe turns images into ordered keyword lists for haiku seeding.
//
// Client calls an image tagging service shaped like the Azure Computer Vision
// "describe" endpoint and can cache answers in Redis. Static returns a fixed
// list and is meant for tests and offline runs.
package describe
