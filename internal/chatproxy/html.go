package chatproxy

import (
	"encoding/json"
	"strings"
)

// htmlSentinel is the well-known marker the upstream UI's HTML is expected
// to contain. The injected script is spliced in immediately before it.
const htmlSentinel = `<!--__MC_CHAT_PROXY_INJECT__-->`

// injectChatProxyScript performs a literal substring search-and-splice
// (not an HTML parse, per SPEC_FULL.md supplement 4) to insert a script
// that rewires the upstream UI to operate through the proxy's origin. If
// the sentinel is absent, the HTML is returned unmodified, per design note
// 9.4's graceful-degradation requirement.
func injectChatProxyScript(html []byte, slug, gatewayURL, token string) []byte {
	idx := strings.Index(string(html), htmlSentinel)
	if idx < 0 {
		return html
	}

	basePath := "/chat/" + slug
	script := buildInjectionScript(basePath, gatewayURL, token)

	out := make([]byte, 0, len(html)+len(script))
	out = append(out, html[:idx]...)
	out = append(out, script...)
	out = append(out, html[idx:]...)
	return out
}

func buildInjectionScript(basePath, gatewayURL, token string) []byte {
	basePathJSON, _ := json.Marshal(basePath)
	settings, _ := json.Marshal(map[string]string{"gatewayUrl": gatewayURL, "token": token})

	var b strings.Builder
	b.WriteString("<script>")
	b.WriteString("window.__MC_CHAT_PROXY_BASE_PATH__=")
	b.Write(basePathJSON)
	b.WriteString(";")

	// Clear stale device-auth entries left by a prior direct (non-proxied)
	// session against the same upstream origin.
	b.WriteString(`try{for(const k of Object.keys(localStorage)){if(k.indexOf('device-auth')!==-1)localStorage.removeItem(k);}}catch(e){}`)

	b.WriteString(`try{localStorage.setItem('mc-chat-proxy-settings',JSON.stringify(`)
	b.Write(settings)
	b.WriteString(`));}catch(e){}`)

	b.WriteString(`window.__MC_ASSISTANT_AVATAR__=window.__MC_CHAT_PROXY_BASE_PATH__+'/avatar/assistant.png';`)

	b.WriteString(`(function(){` +
		`function rewrite(el){` +
		`if(!el||el.nodeType!==1)return;` +
		`if(el.getAttribute&&el.getAttribute('src')&&el.getAttribute('src').indexOf('/avatar/')===0){` +
		`el.setAttribute('src',window.__MC_CHAT_PROXY_BASE_PATH__+el.getAttribute('src'));}` +
		`if(el.querySelectorAll)el.querySelectorAll('[src^="/avatar/"]').forEach(function(c){` +
		`c.setAttribute('src',window.__MC_CHAT_PROXY_BASE_PATH__+c.getAttribute('src'));});}` +
		`var observer=new MutationObserver(function(muts){muts.forEach(function(m){` +
		`m.addedNodes&&m.addedNodes.forEach(rewrite);` +
		`if(m.type==='attributes')rewrite(m.target);});});` +
		`observer.observe(document.documentElement,{childList:true,subtree:true,attributes:true,attributeFilter:['src']});` +
		`})();`)

	b.WriteString("</script>")
	return []byte(b.String())
}
