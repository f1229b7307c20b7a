// Command seo-auditor runs the SEO audit service, the batch crawler and schema migrations.
//
// Usage:
//
//	seo-auditor serve --config config.yaml
//	seo-auditor batch --langs=en,fr --subset=50 --base-url=https://shop.example.com
//	seo-auditor migrate up
package main
