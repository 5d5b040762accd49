package combiner

// scriptPreamble is the POSIX shell boilerplate shared by every generated
// combining script: an idempotency check via a marker file sitting next to
// the script, and a combine() helper that concatenates its chunk arguments
// into dest via a temp file and removes them. Any arguments the script is
// given (the image's original entrypoint and command) are exec'd once the
// files are in place, or straight away when the marker already exists.
const scriptPreamble = `#!/bin/sh
set -e

marker="$(dirname "$0")/.combined"
if [ -f "$marker" ]; then
  if [ "$#" -gt 0 ]; then exec "$@"; fi
  exit 0
fi

combine() {
  dest="$1"
  shift
  tmp="${dest}.repack-tmp"
  : > "$tmp"
  for part in "$@"; do
    cat "$part" >> "$tmp"
    rm -f "$part"
  done
  mv "$tmp" "$dest"
}

`

const scriptEpilogue = `
touch "$marker"
if [ "$#" -gt 0 ]; then exec "$@"; fi
`
