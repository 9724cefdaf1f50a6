// Package tgui provides small Telegram UI helpers:
//   - HTML escaping for ParseMode="HTML"
//   - Button payload encoding ("video", "audio", "download:<id>:<handle>")
//   - Inline keyboard builders
package tgui
