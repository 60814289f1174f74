package session

import (
	"encoding/json"
	"fmt"
)

// The scripts below run inside the WhatsApp Web page via Runtime.evaluate
// and return JSON by value. Selectors target the chat-list grid and the
// open conversation panel; every script degrades to an empty result when
// the surface is mid-render.

const chatListScript = `(() => {
  const rows = [];
  const list = document.querySelector('[aria-label="Chat list"], #pane-side [role="grid"]');
  if (!list) return JSON.stringify(rows);
  for (const item of list.querySelectorAll('[role="listitem"], [role="row"]')) {
    const titleEl = item.querySelector('span[title]');
    if (!titleEl) continue;
    const spans = item.querySelectorAll('span[title]');
    const preview = spans.length > 1 ? (spans[spans.length - 1].getAttribute('title') || '') : '';
    const icons = [];
    for (const icon of item.querySelectorAll('[data-icon]')) {
      icons.push(icon.getAttribute('data-icon'));
    }
    const ariaEl = item.querySelector('[aria-label]');
    rows.push({
      name: titleEl.getAttribute('title') || '',
      preview: preview,
      aria: item.getAttribute('aria-label') || (ariaEl ? ariaEl.getAttribute('aria-label') : '') || '',
      icons: icons,
    });
  }
  return JSON.stringify(rows);
})()`

func chatRowScript(contact string) string {
	return fmt.Sprintf(`(() => {
  const want = %s;
  const list = document.querySelector('[aria-label="Chat list"], #pane-side [role="grid"]');
  if (!list) return null;
  for (const item of list.querySelectorAll('[role="listitem"], [role="row"]')) {
    const titleEl = item.querySelector('span[title]');
    if (!titleEl || (titleEl.getAttribute('title') || '') !== want) continue;
    const spans = item.querySelectorAll('span[title]');
    const preview = spans.length > 1 ? (spans[spans.length - 1].getAttribute('title') || '') : '';
    const icons = [];
    for (const icon of item.querySelectorAll('[data-icon]')) {
      icons.push(icon.getAttribute('data-icon'));
    }
    const ariaEl = item.querySelector('[aria-label]');
    return JSON.stringify({
      name: titleEl.getAttribute('title') || '',
      preview: preview,
      aria: item.getAttribute('aria-label') || (ariaEl ? ariaEl.getAttribute('aria-label') : '') || '',
      icons: icons,
    });
  }
  return null;
})()`, jsString(contact))
}

func openChatScript(contact string) string {
	return fmt.Sprintf(`(() => {
  const want = %s;
  const list = document.querySelector('[aria-label="Chat list"], #pane-side [role="grid"]');
  if (!list) return false;
  for (const item of list.querySelectorAll('[role="listitem"], [role="row"]')) {
    const titleEl = item.querySelector('span[title]');
    if (!titleEl || (titleEl.getAttribute('title') || '') !== want) continue;
    for (const type of ['mousedown', 'mouseup', 'click']) {
      item.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
    }
    return true;
  }
  return false;
})()`, jsString(contact))
}

const focusComposerScript = `(() => {
  const box = document.querySelector('#main footer [contenteditable="true"]');
  if (!box) return false;
  box.focus();
  return document.activeElement === box;
})()`

const composerHasTextScript = `(() => {
  const box = document.querySelector('#main footer [contenteditable="true"]');
  return !!box && box.innerText.trim().length > 0;
})()`

const lastAuthorshipScript = `(() => {
  const msgs = document.querySelectorAll('#main .message-in, #main .message-out');
  if (!msgs.length) return 'unknown';
  const last = msgs[msgs.length - 1];
  if (last.classList.contains('message-out')) return 'ours';
  if (last.classList.contains('message-in')) return 'theirs';
  const id = last.getAttribute('data-id') || '';
  if (id.startsWith('true_')) return 'ours';
  if (id.startsWith('false_')) return 'theirs';
  return 'unknown';
})()`

// jsString embeds a Go string as a JS string literal.
func jsString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
