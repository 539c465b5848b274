package main

// The six page sections, top to bottom. Each gets one deferred 3D embed.
func defaultSections() []SectionConfig {
	return []SectionConfig{
		{
			Slot:     "hero",
			Title:    "Zach Kordas-Potter",
			Resource: "https://my.spline.design/worldplanet-4hxZ1pfd6ey7FJAvxeatcrst/",
			Fast:     true,
			Large:    true,
		},
		{
			Slot:     "about",
			Title:    "About Me",
			Resource: "https://my.spline.design/fireparticleloaderanimationdrstrangeporta-tOX8qzgYedqdJINK28QMLxpZ/",
		},
		{
			Slot:     "education",
			Title:    "Education",
			Resource: "https://my.spline.design/particleaibrain-D2sSOzBTgdPmLEGUnqeAnrxc/",
		},
		{
			Slot:     "certifications",
			Title:    "Certifications",
			Resource: "https://my.spline.design/interactivekeyboardbyabhinand-Eyk23c94VDt0fOFUoMewDBt7/",
		},
		{
			Slot:     "projects",
			Title:    "Projects",
			Resource: "https://my.spline.design/robotfollowcursorforlandingpage-19EOkEmE3u4DcTVzAh0AhIeF/",
			Large:    true,
		},
		{
			Slot:     "contact",
			Title:    "Contact",
			Resource: "https://my.spline.design/genkubgreetingrobot-dQd6mswKKCijQDbJG0ctf0xX/",
			Fast:     true,
		},
	}
}

var (
	AboutMe = `I love building software that's both useful and fun, and I'm always curious about how things work behind the scenes.`

	FallbackText = `This 3D scene could not be loaded. The rest of the page works without it.`
)
