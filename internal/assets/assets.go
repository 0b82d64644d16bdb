// Package assets provides embedded static content for the application:
// the operator-facing health page and API reference text, rendered without
// any external file dependencies so the binary stays self-contained.
package assets

import (
	"bytes"
	"html/template"
	"regexp"
)

// versionSanitizer matches every character SanitizeVersion removes from the version string.
// This prevents XSS via build-time ldflags injection.
// Only allows alphanumeric characters, dots, dashes, underscores, and plus signs.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string to prevent XSS attacks.
// Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	sanitized := versionSanitizer.ReplaceAllString(version, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// HealthPageData contains the data for rendering the operator health page.
type HealthPageData struct {
	Version      string
	GoVersion    string
	Uptime       string
	MaxSessions  int
	ActiveCount  int
	ArtifactRoot string
}

// healthPageTemplate is the pre-compiled health page template using html/template
// for automatic XSS protection.
var healthPageTemplate = template.Must(template.New("health").Parse(healthPageHTML))

// RenderHealthPage renders the health page with the given data.
// Uses html/template for automatic XSS escaping of all values.
func RenderHealthPage(data HealthPageData) (string, error) {
	data.Version = SanitizeVersion(data.Version)

	var buf bytes.Buffer
	if err := healthPageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// healthPageHTML is the template source for the health page.
// SECURITY: This template uses html/template which auto-escapes all values.
// Additionally, the Version field is pre-sanitized before rendering.
const healthPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>truckportal-bridge Health</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e0e0e0;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
        }
        .container {
            text-align: center;
            padding: 2rem;
            background: rgba(255,255,255,0.05);
            border-radius: 16px;
            backdrop-filter: blur(10px);
            box-shadow: 0 8px 32px rgba(0,0,0,0.3);
            max-width: 500px;
        }
        h1 {
            color: #00d9ff;
            margin-bottom: 0.5rem;
            font-size: 2.5rem;
        }
        .subtitle {
            color: #888;
            margin-bottom: 2rem;
        }
        .status {
            display: inline-flex;
            align-items: center;
            gap: 0.5rem;
            padding: 0.75rem 1.5rem;
            background: rgba(0, 255, 128, 0.1);
            border: 1px solid rgba(0, 255, 128, 0.3);
            border-radius: 8px;
            color: #00ff80;
            font-weight: 600;
            margin-bottom: 1.5rem;
        }
        .status::before {
            content: '';
            width: 10px;
            height: 10px;
            background: #00ff80;
            border-radius: 50%;
            animation: pulse 2s infinite;
        }
        @keyframes pulse {
            0%, 100% { opacity: 1; }
            50% { opacity: 0.5; }
        }
        .info {
            text-align: left;
            background: rgba(0,0,0,0.2);
            padding: 1rem;
            border-radius: 8px;
            font-family: monospace;
            font-size: 0.9rem;
        }
        .info div {
            padding: 0.25rem 0;
        }
        .label {
            color: #888;
        }
        footer {
            margin-top: 2rem;
            color: #666;
            font-size: 0.8rem;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>truckportal-bridge</h1>
        <p class="subtitle">Browser automation bridge</p>
        <div class="status">Service Healthy</div>
        <div class="info">
            <div><span class="label">Version:</span> {{.Version}}</div>
            <div><span class="label">Go Version:</span> {{.GoVersion}}</div>
            <div><span class="label">Uptime:</span> {{.Uptime}}</div>
            <div><span class="label">Sessions:</span> {{.ActiveCount}} / {{.MaxSessions}}</div>
            <div><span class="label">Artifact root:</span> {{.ArtifactRoot}}</div>
        </div>
    </div>
</body>
</html>`

// APIDocumentation provides embedded API documentation for the operator
// health page's accompanying reference text.
var APIDocumentation = `# truckportal-bridge API Documentation

## Overview
truckportal-bridge drives a pool of headless browser sessions logged into a
trucking terminal operator's web portal, exposing container lookup and
appointment scheduling as a JSON HTTP API.

## Endpoints

### POST /get_session
Acquire or reuse a logged-in browser session for a set of credentials.

### POST /get_containers
List containers visible to the session.

### POST /get_container_timeline
Fetch a container's event timeline and current pregate status.

### POST /get_booking_number
Resolve a container's booking number.

### POST /get_appointments
Export the appointments listing to a spreadsheet and return its file URL and
selected row count.

### POST /check_appointments
Run the appointment form for an import or export container as far as the
supplied phase fields allow, stopping before the final submit. Returns an
appointment_session_id that a follow-up call can resume from.

### POST /make_appointment
Submit the final appointment booking phase.

### POST /get_info_bulk
Check pregate status and booking number for lists of import and export
containers, one after another on the same session.

### GET /sessions
List live sessions.

### DELETE /sessions/{id}
Force-close a session.

### POST /cleanup
Trigger an out-of-band artifact janitor sweep.

### GET /files/{name}
Download a debug artifact (screenshot or bundle) produced during a session.

### GET /health
Health check endpoint.
`
