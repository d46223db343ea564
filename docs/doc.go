// Package docs provides generated OpenAPI documentation.
//
// Primer API
//
//	@title			Primer API
//	@version		1.0
//	@description	Teaching-guideline extraction API for textbook ingestion, OCR and guideline pipelines.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/tutorkit/primer
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/primer/serve.go -o ./swagger --parseDependency --parseInternal
