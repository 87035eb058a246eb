// SPDX-License-Identifier: MIT

// Package procgroup signals whole process trees. yt-dlp forks helper
// processes (ffmpeg, fragment downloaders); canceling only the direct
// child would leak them.
package procgroup
